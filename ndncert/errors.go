package ndncert

import (
	"errors"
	"fmt"

	"github.com/UCLA-IRL/go-ndncert/security"
)

type ErrorCode uint64

const (
	ErrorCodeBadInterestFormat  ErrorCode = 1
	ErrorCodeBadParameterFormat ErrorCode = 2
	ErrorCodeBadSignature       ErrorCode = 3
	ErrorCodeInvalidParameters  ErrorCode = 4
	ErrorCodeNameNotAllowed     ErrorCode = 5
	ErrorCodeBadValidityPeriod  ErrorCode = 6
	ErrorCodeRunOutOfTries      ErrorCode = 7
	ErrorCodeRunOutOfTime       ErrorCode = 8
	ErrorCodeNoAvailableNames   ErrorCode = 9
)

const (
	ErrorReasonBadInterestFormat  string = "Bad Interest Format: the Interest format is incorrect, e.g., no ApplicationParameters."
	ErrorReasonBadParameterFormat string = "Bad Parameter Format: the ApplicationParameters field is not correctly formed."
	ErrorReasonBadSignature       string = "Bad Signature or signature info: the Interest carries an invalid signature."
	ErrorReasonInvalidParameters  string = "Invalid parameters: the input from the requester is not expected."
	ErrorReasonNameNotAllowed     string = "Name not allowed: the requested certificate name cannot be assigned to the requester."
	ErrorReasonBadValidityPeriod  string = "Bad ValidityPeriod: requested certificate has an erroneous validity period, e.g., too long time."
	ErrorReasonRunOutOfTries      string = "Run out of tries: the requester failed to complete the challenge within allowed number of attempts."
	ErrorReasonRunOutOfTime       string = "Run out of time: the requester failed to complete the challenge within time limit."
	ErrorReasonNoAvailableNames   string = "No Available Names: the CA finds there is no namespaces available based on the PROBE parameters provided."
)

var ErrorCodeMapping = map[ErrorCode]string{
	ErrorCodeBadInterestFormat:  ErrorReasonBadInterestFormat,
	ErrorCodeBadParameterFormat: ErrorReasonBadParameterFormat,
	ErrorCodeBadSignature:       ErrorReasonBadSignature,
	ErrorCodeInvalidParameters:  ErrorReasonInvalidParameters,
	ErrorCodeNameNotAllowed:     ErrorReasonNameNotAllowed,
	ErrorCodeBadValidityPeriod:  ErrorReasonBadValidityPeriod,
	ErrorCodeRunOutOfTries:      ErrorReasonRunOutOfTries,
	ErrorCodeRunOutOfTime:       ErrorReasonRunOutOfTime,
	ErrorCodeNoAvailableNames:   ErrorReasonNoAvailableNames,
}

func (c ErrorCode) String() string {
	switch c {
	case ErrorCodeBadInterestFormat:
		return "BadInterestFormat"
	case ErrorCodeBadParameterFormat:
		return "BadParameterFormat"
	case ErrorCodeBadSignature:
		return "BadSignature"
	case ErrorCodeInvalidParameters:
		return "InvalidParameters"
	case ErrorCodeNameNotAllowed:
		return "NameNotAllowed"
	case ErrorCodeBadValidityPeriod:
		return "BadValidityPeriod"
	case ErrorCodeRunOutOfTries:
		return "OutOfTries"
	case ErrorCodeRunOutOfTime:
		return "OutOfTime"
	case ErrorCodeNoAvailableNames:
		return "NoAvailableName"
	}
	return fmt.Sprintf("ErrorCode(%d)", uint64(c))
}

// Local failures raised before anything reaches the wire.
var (
	ErrValidation           = errors.New("validation error")
	ErrValidityPeriod       = errors.New("validity period error")
	ErrUnsupportedChallenge = errors.New("no supported challenge")
	ErrBadSignature         = security.ErrBadSignature
	ErrMissingKeyLocator    = security.ErrMissingKeyLocator
	ErrExpired              = security.ErrExpired
)

// Sentinels matched by a ProtocolError carrying the corresponding code.
var (
	ErrBadInterestFormat  = errors.New("bad interest format")
	ErrBadParameterFormat = errors.New("bad parameter format")
	ErrInvalidParameters  = errors.New("invalid parameters")
	ErrNameNotAllowed     = errors.New("name not allowed")
	ErrBadValidity        = errors.New("bad validity period")
	ErrOutOfTries         = errors.New("run out of tries")
	ErrOutOfTime          = errors.New("run out of time")
	ErrNoAvailableName    = errors.New("no available names")
)

var codeSentinels = map[ErrorCode]error{
	ErrorCodeBadInterestFormat:  ErrBadInterestFormat,
	ErrorCodeBadParameterFormat: ErrBadParameterFormat,
	ErrorCodeBadSignature:       ErrBadSignature,
	ErrorCodeInvalidParameters:  ErrInvalidParameters,
	ErrorCodeNameNotAllowed:     ErrNameNotAllowed,
	ErrorCodeBadValidityPeriod:  ErrBadValidity,
	ErrorCodeRunOutOfTries:      ErrOutOfTries,
	ErrorCodeRunOutOfTime:       ErrOutOfTime,
	ErrorCodeNoAvailableNames:   ErrNoAvailableName,
}

// ProtocolError is an ErrorMsg received from the CA. The enrollment cannot continue.
type ProtocolError struct {
	Code ErrorCode
	Info string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("CA replied %s: %s", e.Code, e.Info)
}

func (e *ProtocolError) Is(target error) bool {
	sentinel, ok := codeSentinels[e.Code]
	return ok && sentinel == target
}

// ErrorCodeOf picks the ErrorMsg code that best describes a server-side failure.
func ErrorCodeOf(err error) ErrorCode {
	var protocolError *ProtocolError
	if errors.As(err, &protocolError) {
		return protocolError.Code
	}
	for code, sentinel := range codeSentinels {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	switch {
	case errors.Is(err, ErrMissingKeyLocator):
		return ErrorCodeBadSignature
	case errors.Is(err, ErrValidityPeriod), errors.Is(err, ErrExpired):
		return ErrorCodeBadValidityPeriod
	case errors.Is(err, ErrValidation):
		return ErrorCodeInvalidParameters
	}
	return ErrorCodeBadParameterFormat
}
