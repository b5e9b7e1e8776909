package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetCertNameFromEmailAddress(t *testing.T) {
	require.Equal(t, "/ndn/edu/ucla/edu/ucla/alice", getCertNameFromEmailAddress("/ndn/edu/ucla", "alice@ucla.edu"))
	require.Equal(t, "/ndn/com/example/bob", getCertNameFromEmailAddress("/ndn/", "bob@example.com"))
	require.Equal(t, "", getCertNameFromEmailAddress("/ndn", "not-an-address"))
}

func TestParseParameters(t *testing.T) {
	params, err := parseParameters([]string{"email=alice@ucla.edu", "name=a=b"})
	require.NoError(t, err)
	require.Len(t, params, 2)
	require.Equal(t, "email", params[0].Key)
	require.Equal(t, []byte("alice@ucla.edu"), params[0].Value)
	require.Equal(t, "a=b", string(params[1].Value))

	_, err = parseParameters([]string{"email"})
	require.Error(t, err)
}
