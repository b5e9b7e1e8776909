package ndncert

import (
	"errors"
	"fmt"

	"github.com/UCLA-IRL/go-ndncert/crypto"
	enc "github.com/zjkmxy/go-ndn/pkg/encoding"
	"github.com/zjkmxy/go-ndn/pkg/security/ndncert_0_3"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

const (
	TypeCaPrefix             enc.TLNum = 0x81
	TypeCaInfo               enc.TLNum = 0x83
	TypeParameterKey         enc.TLNum = 0x85
	TypeParameterValue       enc.TLNum = 0x87
	TypeCaCertificate        enc.TLNum = 0x89
	TypeMaxValidityPeriod    enc.TLNum = 0x8B
	TypeProbeResponse        enc.TLNum = 0x8D
	TypeMaxSuffixLength      enc.TLNum = 0x8F
	TypeEcdhPub              enc.TLNum = 0x91
	TypeCertRequest          enc.TLNum = 0x93
	TypeSalt                 enc.TLNum = 0x95
	TypeRequestId            enc.TLNum = 0x97
	TypeChallenge            enc.TLNum = 0x99
	TypeStatus               enc.TLNum = 0x9B
	TypeInitializationVector enc.TLNum = 0x9D
	TypeEncryptedPayload     enc.TLNum = 0x9F
	TypeSelectedChallenge    enc.TLNum = 0xA1
	TypeChallengeStatus      enc.TLNum = 0xA3
	TypeRemainingTries       enc.TLNum = 0xA5
	TypeRemainingTime        enc.TLNum = 0xA7
	TypeIssuedCertName       enc.TLNum = 0xA9
	TypeErrorCode            enc.TLNum = 0xAB
	TypeErrorInfo            enc.TLNum = 0xAD
	TypeProbeRedirect        enc.TLNum = 0xB3
	TypeForwardingHint       enc.TLNum = 0x1E
)

// ErrMalformed is returned for content that is not a well formed NDNCERT message.
var ErrMalformed = errors.New("malformed TLV")

type Parameter struct {
	Key   string
	Value []byte
}

// GetParameter returns the value of the first parameter named key.
func GetParameter(params []Parameter, key string) ([]byte, bool) {
	for _, p := range params {
		if p.Key == key {
			return p.Value, true
		}
	}
	return nil, false
}

// toParamMap never leaves a nil value: the encoder drops the value TLV of a nil slice.
func toParamMap(params []Parameter) map[string][]byte {
	if params == nil {
		return nil
	}
	ret := make(map[string][]byte, len(params))
	for _, p := range params {
		if p.Value == nil {
			ret[p.Key] = []byte{}
		} else {
			ret[p.Key] = p.Value
		}
	}
	return ret
}

func fromParamMap(m map[string][]byte) []Parameter {
	if len(m) == 0 {
		return nil
	}
	keys := maps.Keys(m)
	slices.Sort(keys)
	ret := make([]Parameter, 0, len(keys))
	for _, k := range keys {
		ret = append(ret, Parameter{Key: k, Value: m[k]})
	}
	return ret
}

func isCritical(typ enc.TLNum) bool {
	return typ <= 31 || typ&1 == 1
}

func readTLV(r *enc.BufferReader) (enc.TLNum, []byte, error) {
	typ, err := enc.ReadTLNum(r)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: truncated type", ErrMalformed)
	}
	l, err := enc.ReadTLNum(r)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: truncated length of %#x", ErrMalformed, uint64(typ))
	}
	if uint64(l) > uint64(r.Length()-r.Pos()) {
		return 0, nil, fmt.Errorf("%w: %#x overruns the buffer", ErrMalformed, uint64(typ))
	}
	val, _ := r.ReadBuf(int(l))
	return typ, val, nil
}

func checkNat(val []byte) error {
	switch len(val) {
	case 1, 2, 4, 8:
		return nil
	}
	return fmt.Errorf("%w: natural number of %d bytes", ErrMalformed, len(val))
}

// checkComponents accepts a concatenation of name components.
func checkComponents(val []byte) error {
	r := enc.NewBufferReader(val)
	for r.Pos() < r.Length() {
		typ, _, err := readTLV(r)
		if err != nil {
			return err
		}
		if typ == 0 || typ > 0xffff {
			return fmt.Errorf("%w: name component type %d", ErrMalformed, uint64(typ))
		}
	}
	return nil
}

// field describes one element of a message for checkFields. A parameter key names the type of the
// value that must follow it.
type field struct {
	typ      enc.TLNum
	optional bool
	repeated bool
	value    enc.TLNum
	check    func([]byte) error
}

var paramsField = field{typ: TypeParameterKey, optional: true, repeated: true, value: TypeParameterValue}

// checkFields walks buf before the generated parsers see it. Those parsers loop forever on a field
// that is out of order or repeated, lose their place after skipping an unknown field, trust lengths
// before allocating, and keep only the last value of a repeated parameter key.
func checkFields(buf []byte, fields ...field) error {
	r := enc.NewBufferReader(buf)
	seen := make([]int, len(fields))
	keys := make(map[string]bool)
	next := 0
	for r.Pos() < r.Length() {
		typ, val, err := readTLV(r)
		if err != nil {
			return err
		}
		i := next
		for i < len(fields) && fields[i].typ != typ {
			i++
		}
		if i == len(fields) {
			return fmt.Errorf("%w: unexpected field %#x", ErrMalformed, uint64(typ))
		}
		for j := next; j < i; j++ {
			if seen[j] == 0 && !fields[j].optional {
				return fmt.Errorf("%w: missing field %#x", ErrMalformed, uint64(fields[j].typ))
			}
		}
		if seen[i] > 0 && !fields[i].repeated {
			return fmt.Errorf("%w: duplicate field %#x", ErrMalformed, uint64(typ))
		}
		next = i
		seen[i]++
		f := fields[i]
		if f.check != nil {
			if err = f.check(val); err != nil {
				return err
			}
		}
		if f.value != 0 {
			if keys[string(val)] {
				return fmt.Errorf("%w: duplicate parameter %q", ErrMalformed, val)
			}
			keys[string(val)] = true
			vtyp, _, err := readTLV(r)
			if err != nil {
				return err
			}
			if vtyp != f.value {
				return fmt.Errorf("%w: parameter %q has no value", ErrMalformed, val)
			}
		}
	}
	for j := next; j < len(fields); j++ {
		if seen[j] == 0 && !fields[j].optional {
			return fmt.Errorf("%w: missing field %#x", ErrMalformed, uint64(fields[j].typ))
		}
	}
	return nil
}

// prepare checks buf against fields and returns a reader over a private copy of it, so that the
// decoded message never aliases the caller's buffer.
func prepare(buf []byte, fields ...field) (enc.ParseReader, error) {
	if err := checkFields(buf, fields...); err != nil {
		return nil, err
	}
	return enc.NewBufferReader(append([]byte(nil), buf...)), nil
}

func parsed[T any](v *T, err error) (*T, error) {
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return v, nil
}

type CaProfile struct {
	CaPrefix       enc.Name
	CaInfo         string
	ParameterKey   []string
	MaxValidPeriod uint64 // seconds
	CaCertificate  []byte
}

func (p *CaProfile) Encode() []byte {
	return (&ndncert_0_3.CaProfile{
		CaPrefix:       p.CaPrefix,
		CaInfo:         p.CaInfo,
		ParamKey:       p.ParameterKey,
		MaxValidPeriod: p.MaxValidPeriod,
		CaCert:         enc.Wire{p.CaCertificate},
	}).Bytes()
}

func ParseCaProfile(buf []byte) (*CaProfile, error) {
	r, err := prepare(buf,
		field{typ: TypeCaPrefix, check: checkComponents},
		field{typ: TypeCaInfo},
		field{typ: TypeParameterKey, optional: true, repeated: true},
		field{typ: TypeMaxValidityPeriod, check: checkNat},
		field{typ: TypeCaCertificate})
	if err != nil {
		return nil, err
	}
	raw, err := parsed(ndncert_0_3.ParseCaProfile(r, false))
	if err != nil {
		return nil, err
	}
	return &CaProfile{
		CaPrefix:       raw.CaPrefix,
		CaInfo:         raw.CaInfo,
		ParameterKey:   raw.ParamKey,
		MaxValidPeriod: raw.MaxValidPeriod,
		CaCertificate:  raw.CaCert.Join(),
	}, nil
}

type ProbeInterest struct {
	Parameters []Parameter
}

func (p *ProbeInterest) Encode() []byte {
	return (&ndncert_0_3.ProbeIntAppParam{Params: toParamMap(p.Parameters)}).Bytes()
}

func ParseProbeInterest(buf []byte) (*ProbeInterest, error) {
	r, err := prepare(buf, paramsField)
	if err != nil {
		return nil, err
	}
	raw, err := parsed(ndncert_0_3.ParseProbeIntAppParam(r, false))
	if err != nil {
		return nil, err
	}
	return &ProbeInterest{Parameters: fromParamMap(raw.Params)}, nil
}

// ProbeEntry is a name prefix the CA is willing to certify. A nil MaxSuffixLength means any depth.
type ProbeEntry struct {
	Name            enc.Name
	MaxSuffixLength *uint64
}

// ProbeData is the PROBE reply. The generated ProbeResContent has no redirects and types the
// MaxSuffixLength field 0, so this message is encoded by hand.
type ProbeData struct {
	Entries   []ProbeEntry
	Redirects []enc.Name
}

func appendTLV(buf []byte, typ enc.TLNum, val []byte) []byte {
	tl := make([]byte, typ.EncodingLength()+enc.TLNum(len(val)).EncodingLength())
	p := typ.EncodeInto(tl)
	enc.TLNum(len(val)).EncodeInto(tl[p:])
	return append(append(buf, tl...), val...)
}

func appendNat(buf []byte, typ enc.TLNum, v uint64) []byte {
	return appendTLV(buf, typ, enc.Nat(v).Bytes())
}

// readNestedName decodes the single Name TLV that makes up val.
func readNestedName(val []byte) (enc.Name, []byte, error) {
	r := enc.NewBufferReader(val)
	typ, comps, err := readTLV(r)
	if err != nil {
		return nil, nil, err
	}
	if typ != enc.TypeName {
		return nil, nil, fmt.Errorf("%w: expected a name, got %#x", ErrMalformed, uint64(typ))
	}
	if err = checkComponents(comps); err != nil {
		return nil, nil, err
	}
	name, err := enc.ReadName(enc.NewBufferReader(comps))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return name, val[r.Pos():], nil
}

func (p *ProbeData) Encode() []byte {
	var buf []byte
	for _, entry := range p.Entries {
		inner := entry.Name.Bytes()
		if entry.MaxSuffixLength != nil {
			inner = appendNat(inner, TypeMaxSuffixLength, *entry.MaxSuffixLength)
		}
		buf = appendTLV(buf, TypeProbeResponse, inner)
	}
	for _, redirect := range p.Redirects {
		buf = appendTLV(buf, TypeProbeRedirect, redirect.Bytes())
	}
	return buf
}

func parseProbeEntry(val []byte) (ProbeEntry, error) {
	name, rest, err := readNestedName(val)
	if err != nil {
		return ProbeEntry{}, err
	}
	entry := ProbeEntry{Name: name}
	if len(rest) == 0 {
		return entry, nil
	}
	r := enc.NewBufferReader(rest)
	typ, nat, err := readTLV(r)
	if err != nil {
		return ProbeEntry{}, err
	}
	if typ != TypeMaxSuffixLength || r.Pos() != r.Length() {
		return ProbeEntry{}, fmt.Errorf("%w: unexpected field %#x in probe entry", ErrMalformed, uint64(typ))
	}
	if err = checkNat(nat); err != nil {
		return ProbeEntry{}, err
	}
	n, _ := enc.ParseNat(nat)
	length := uint64(n)
	entry.MaxSuffixLength = &length
	return entry, nil
}

func ParseProbeData(buf []byte) (*ProbeData, error) {
	own := append([]byte(nil), buf...)
	r := enc.NewBufferReader(own)
	p := &ProbeData{}
	for r.Pos() < r.Length() {
		typ, val, err := readTLV(r)
		if err != nil {
			return nil, err
		}
		switch {
		case typ == TypeProbeResponse && len(p.Redirects) == 0:
			entry, err := parseProbeEntry(val)
			if err != nil {
				return nil, err
			}
			p.Entries = append(p.Entries, entry)
		case typ == TypeProbeRedirect:
			name, rest, err := readNestedName(val)
			if err != nil {
				return nil, err
			}
			if len(rest) != 0 {
				return nil, fmt.Errorf("%w: trailing bytes after redirect", ErrMalformed)
			}
			p.Redirects = append(p.Redirects, name)
		case isCritical(typ):
			return nil, fmt.Errorf("%w: unexpected field %#x", ErrMalformed, uint64(typ))
		}
	}
	return p, nil
}

type NewInterest struct {
	EcdhPub     []byte
	CertRequest []byte
}

func (n *NewInterest) Encode() []byte {
	return (&ndncert_0_3.CmdNewInt{EcdhPub: n.EcdhPub, CertReq: n.CertRequest}).Bytes()
}

func ParseNewInterest(buf []byte) (*NewInterest, error) {
	r, err := prepare(buf, field{typ: TypeEcdhPub}, field{typ: TypeCertRequest})
	if err != nil {
		return nil, err
	}
	raw, err := parsed(ndncert_0_3.ParseCmdNewInt(r, false))
	if err != nil {
		return nil, err
	}
	return &NewInterest{EcdhPub: raw.EcdhPub, CertRequest: raw.CertReq}, nil
}

type NewData struct {
	EcdhPub   []byte
	Salt      []byte
	RequestId []byte
	Challenge []string
}

func (n *NewData) Encode() []byte {
	return (&ndncert_0_3.CmdNewData{
		EcdhPub:   n.EcdhPub,
		Salt:      n.Salt,
		ReqId:     n.RequestId,
		Challenge: n.Challenge,
	}).Bytes()
}

func ParseNewData(buf []byte) (*NewData, error) {
	r, err := prepare(buf,
		field{typ: TypeEcdhPub},
		field{typ: TypeSalt},
		field{typ: TypeRequestId},
		field{typ: TypeChallenge, optional: true, repeated: true})
	if err != nil {
		return nil, err
	}
	raw, err := parsed(ndncert_0_3.ParseCmdNewData(r, false))
	if err != nil {
		return nil, err
	}
	return &NewData{EcdhPub: raw.EcdhPub, Salt: raw.Salt, RequestId: raw.ReqId, Challenge: raw.Challenge}, nil
}

// EncodeEncryptedMessage writes the payload (ciphertext and tag) followed by the IV. The generated
// CipherMsg puts the IV first and carries the tag apart, so it is not used.
func EncodeEncryptedMessage(m *crypto.EncryptedMessage) []byte {
	buf := appendTLV(nil, TypeEncryptedPayload, m.EncryptedPayload)
	return appendTLV(buf, TypeInitializationVector, m.InitializationVector)
}

// ParseEncryptedMessage accepts exactly a payload followed by an IV.
func ParseEncryptedMessage(buf []byte) (*crypto.EncryptedMessage, error) {
	r := enc.NewBufferReader(buf)
	vals := make([][]byte, 0, 2)
	for _, want := range []enc.TLNum{TypeEncryptedPayload, TypeInitializationVector} {
		typ, val, err := readTLV(r)
		if err != nil {
			return nil, err
		}
		if typ != want {
			return nil, fmt.Errorf("%w: expected %#x, got %#x", ErrMalformed, uint64(want), uint64(typ))
		}
		vals = append(vals, val)
	}
	if r.Pos() != r.Length() {
		return nil, fmt.Errorf("%w: trailing bytes after IV", ErrMalformed)
	}
	if len(vals[1]) != crypto.NonceSizeBytes {
		return nil, fmt.Errorf("%w: IV must be %d bytes", ErrMalformed, crypto.NonceSizeBytes)
	}
	return &crypto.EncryptedMessage{
		InitializationVector: append([]byte(nil), vals[1]...),
		EncryptedPayload:     append([]byte(nil), vals[0]...),
	}, nil
}

type ChallengeInterestPlaintext struct {
	SelectedChallenge string
	Parameters        []Parameter
}

func (c *ChallengeInterestPlaintext) Encode() []byte {
	return (&ndncert_0_3.ChallengeIntPlain{
		SelectedChal: c.SelectedChallenge,
		Params:       toParamMap(c.Parameters),
	}).Bytes()
}

func ParseChallengeInterestPlaintext(buf []byte) (*ChallengeInterestPlaintext, error) {
	r, err := prepare(buf, field{typ: TypeSelectedChallenge}, paramsField)
	if err != nil {
		return nil, err
	}
	raw, err := parsed(ndncert_0_3.ParseChallengeIntPlain(r, false))
	if err != nil {
		return nil, err
	}
	return &ChallengeInterestPlaintext{SelectedChallenge: raw.SelectedChal, Parameters: fromParamMap(raw.Params)}, nil
}

type ChallengeDataPlaintext struct {
	Status                Status
	ChallengeStatus       string
	RemainingTries        *uint64
	RemainingTime         *uint64 // seconds
	IssuedCertificateName enc.Name
	ForwardingHint        enc.Name
	Parameters            []Parameter
}

func (c *ChallengeDataPlaintext) Encode() []byte {
	raw := &ndncert_0_3.ChallengeDataPlain{
		Status:         uint64(c.Status),
		RemainTries:    c.RemainingTries,
		RemainTime:     c.RemainingTime,
		CertName:       c.IssuedCertificateName,
		ForwardingHint: c.ForwardingHint,
		Params:         toParamMap(c.Parameters),
	}
	if c.ChallengeStatus != "" {
		raw.ChalStatus = &c.ChallengeStatus
	}
	return raw.Bytes()
}

func ParseChallengeDataPlaintext(buf []byte) (*ChallengeDataPlaintext, error) {
	r, err := prepare(buf,
		field{typ: TypeStatus, check: checkNat},
		field{typ: TypeChallengeStatus, optional: true},
		field{typ: TypeRemainingTries, optional: true, check: checkNat},
		field{typ: TypeRemainingTime, optional: true, check: checkNat},
		field{typ: TypeIssuedCertName, optional: true, check: checkComponents},
		field{typ: TypeForwardingHint, optional: true, check: checkComponents},
		paramsField)
	if err != nil {
		return nil, err
	}
	raw, err := parsed(ndncert_0_3.ParseChallengeDataPlain(r, false))
	if err != nil {
		return nil, err
	}
	c := &ChallengeDataPlaintext{
		Status:                Status(raw.Status),
		RemainingTries:        raw.RemainTries,
		RemainingTime:         raw.RemainTime,
		IssuedCertificateName: raw.CertName,
		ForwardingHint:        raw.ForwardingHint,
		Parameters:            fromParamMap(raw.Params),
	}
	if raw.ChalStatus != nil {
		c.ChallengeStatus = *raw.ChalStatus
	}
	return c, nil
}

type ErrorMessage struct {
	ErrorCode ErrorCode
	ErrorInfo string
}

func (m *ErrorMessage) Encode() []byte {
	return (&ndncert_0_3.ErrorMsgData{ErrCode: uint64(m.ErrorCode), ErrInfo: m.ErrorInfo}).Bytes()
}

func ParseErrorMessage(buf []byte) (*ErrorMessage, error) {
	r, err := prepare(buf, field{typ: TypeErrorCode, check: checkNat}, field{typ: TypeErrorInfo})
	if err != nil {
		return nil, err
	}
	raw, err := parsed(ndncert_0_3.ParseErrorMsgData(r, false))
	if err != nil {
		return nil, err
	}
	return &ErrorMessage{ErrorCode: ErrorCode(raw.ErrCode), ErrorInfo: raw.ErrInfo}, nil
}
