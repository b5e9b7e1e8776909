package email

import (
	"errors"
	"net/smtp"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAddress(t *testing.T) {
	require.NoError(t, ValidateAddress("good_email_address@gmail.com"))
	require.ErrorIs(t, ValidateAddress("bad_email_address"), ErrInvalidAddress)
	require.ErrorIs(t, ValidateAddress("Alice <alice@example.com>"), ErrInvalidAddress)
}

func TestExpandTemplate(t *testing.T) {
	got := ExpandTemplate("PIN $pin$ for $subjectName$ ($unknown$)", map[string]string{
		"pin":         "123456",
		"subjectName": "/ndn/alice",
	})
	require.Equal(t, "PIN 123456 for /ndn/alice ($unknown$)", got)
}

const testConfig = `smtp:
  identity: ca@example.com
  username: ca
  password: secret
  host: smtp.example.com
  port: 587
email:
  codeEmailSubjectLine: Your code
`

func TestSmtpModuleSend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "smtp.yml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))
	smtpModule, err := NewSmtpModule(path)
	require.NoError(t, err)
	require.Equal(t, "smtp.example.com:587", smtpModule.Address)

	subject, body := smtpModule.Template()
	require.Equal(t, "Your code", subject)
	require.Equal(t, DefaultBody, body)

	var sent []byte
	var recipients []string
	smtpModule.sendMail = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		require.Equal(t, "ca@example.com", from)
		recipients, sent = to, msg
		return nil
	}
	require.NoError(t, smtpModule.Send("alice@example.com", "Your code", "PIN 123456"))
	require.Equal(t, []string{"alice@example.com"}, recipients)
	require.Contains(t, string(sent), "Subject: Your code\r\n")
	require.Contains(t, string(sent), "Message-ID: <")
	require.True(t, strings.HasSuffix(string(sent), "\r\n\r\nPIN 123456"))

	require.ErrorIs(t, smtpModule.Send("not-an-address", "s", "b"), ErrInvalidAddress)

	smtpModule.sendMail = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	require.Error(t, smtpModule.Send("alice@example.com", "s", "b"))
}
