package ndncert

import (
	"crypto/ecdsa"
	"fmt"

	"github.com/UCLA-IRL/go-ndncert/crypto"
	"github.com/UCLA-IRL/go-ndncert/security"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/ndn"
)

// MakeChallengeRequest encrypts plaintext under the session and signs the Interest with the requester key.
func MakeChallengeRequest(caPrefix enc.Name, session *crypto.SessionKey, plaintext *ChallengeInterestPlaintext, signer ndn.Signer) (*Request, error) {
	msg, err := session.Encrypter.Encrypt(plaintext.Encode())
	if err != nil {
		return nil, err
	}
	return newRequest(ChallengeName(caPrefix, session.RequestId), EncodeEncryptedMessage(msg), signer), nil
}

// ParseChallengeRequestId extracts the request id from <caPrefix>/CA/CHALLENGE/<requestId>.
func ParseChallengeRequestId(caPrefix enc.Name, interest ndn.Interest) ([]byte, error) {
	prefix := ChallengeName(caPrefix, nil)
	name := WithoutDigest(interest.Name())
	if !prefix.IsPrefix(name) || len(name) != len(prefix)+1 {
		return nil, fmt.Errorf("%w: %s is not a challenge name", ErrBadInterestFormat, interest.Name())
	}
	if interest.AppParam() == nil {
		return nil, fmt.Errorf("%w: challenge without parameters", ErrBadInterestFormat)
	}
	return name[len(name)-1].Val, nil
}

// DecodeChallengeRequest authenticates the Interest as coming from requesterKey before anything in it
// is decrypted.
func DecodeChallengeRequest(interest ndn.Interest, sigCovered enc.Wire, requesterKey *ecdsa.PublicKey, policy *security.SignedInterestPolicy, session *crypto.SessionKey) (*ChallengeInterestPlaintext, error) {
	if err := security.VerifyInterest(interest, sigCovered, requesterKey); err != nil {
		return nil, err
	}
	if policy != nil {
		if err := policy.Check(interest.Signature()); err != nil {
			return nil, err
		}
	}
	msg, err := ParseEncryptedMessage(interest.AppParam().Join())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParameterFormat, err)
	}
	plain, err := session.Decrypter.Decrypt(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBadParameterFormat, err)
	}
	req, err := ParseChallengeInterestPlaintext(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParameterFormat, err)
	}
	return req, nil
}

func MakeChallengeResponse(interest ndn.Interest, signer ndn.Signer, session *crypto.SessionKey, plaintext *ChallengeDataPlaintext) (enc.Wire, error) {
	msg, err := session.Encrypter.Encrypt(plaintext.Encode())
	if err != nil {
		return nil, err
	}
	return makeResponse(interest.Name(), EncodeEncryptedMessage(msg), signer)
}

// ChallengeResponseFromData verifies the CA signature, then decrypts the reply.
func ChallengeResponseFromData(profile *Profile, session *crypto.SessionKey, data ndn.Data, sigCovered enc.Wire) (*ChallengeDataPlaintext, error) {
	content, err := verifyResponse(data, sigCovered, profile.PublicKey())
	if err != nil {
		return nil, err
	}
	msg, err := ParseEncryptedMessage(content)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed challenge response: %v", ErrValidation, err)
	}
	plain, err := session.Decrypter.Decrypt(msg)
	if err != nil {
		return nil, err
	}
	res, err := ParseChallengeDataPlaintext(plain)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed challenge response: %v", ErrValidation, err)
	}
	return res, nil
}

// MakeErrorData answers interest with a CA-signed ErrorMsg. An empty info uses the standard reason.
func MakeErrorData(interest ndn.Interest, signer ndn.Signer, code ErrorCode, info string) (enc.Wire, error) {
	if info == "" {
		info = ErrorCodeMapping[code]
	}
	return makeResponse(interest.Name(), (&ErrorMessage{ErrorCode: code, ErrorInfo: info}).Encode(), signer)
}
