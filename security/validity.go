package security

import (
	"fmt"
	"time"
)

// ValidityPeriod is the closed interval [NotBefore, NotAfter] during which a certificate is valid.
type ValidityPeriod struct {
	NotBefore time.Time
	NotAfter  time.Time
}

// MaxValidity is the widest period representable in a certificate.
var MaxValidity = ValidityPeriod{
	NotBefore: time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC),
	NotAfter:  time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC),
}

// NewValidityPeriod returns the period of length d starting at notBefore.
func NewValidityPeriod(notBefore time.Time, d time.Duration) ValidityPeriod {
	return ValidityPeriod{NotBefore: notBefore, NotAfter: notBefore.Add(d)}
}

func (v ValidityPeriod) IsEmpty() bool {
	return v.NotAfter.Before(v.NotBefore)
}

// Includes reports whether t falls inside the period.
func (v ValidityPeriod) Includes(t time.Time) bool {
	return !v.IsEmpty() && !t.Before(v.NotBefore) && !t.After(v.NotAfter)
}

// Intersect returns the overlap of v and others. The result may be empty.
func (v ValidityPeriod) Intersect(others ...ValidityPeriod) ValidityPeriod {
	out := v
	for _, o := range others {
		if o.NotBefore.After(out.NotBefore) {
			out.NotBefore = o.NotBefore
		}
		if o.NotAfter.Before(out.NotAfter) {
			out.NotAfter = o.NotAfter
		}
	}
	return out
}

// Seconds narrows the period to whole seconds, the precision certificates carry.
func (v ValidityPeriod) Seconds() ValidityPeriod {
	notBefore := v.NotBefore.UTC().Truncate(time.Second)
	if notBefore.Before(v.NotBefore) {
		notBefore = notBefore.Add(time.Second)
	}
	return ValidityPeriod{NotBefore: notBefore, NotAfter: v.NotAfter.UTC().Truncate(time.Second)}
}

func (v ValidityPeriod) Equal(other ValidityPeriod) bool {
	return v.NotBefore.Equal(other.NotBefore) && v.NotAfter.Equal(other.NotAfter)
}

func (v ValidityPeriod) Duration() time.Duration {
	return v.NotAfter.Sub(v.NotBefore)
}

func (v ValidityPeriod) String() string {
	return fmt.Sprintf("[%s, %s]", v.NotBefore.UTC().Format(time.RFC3339), v.NotAfter.UTC().Format(time.RFC3339))
}
