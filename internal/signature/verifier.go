// Package signature verifies HMAC-SHA256 webhook signatures computed over
// the raw request body followed by the sender's timestamp string.
package signature

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strconv"
	"time"
)

// DefaultTolerance is the maximum allowed distance between the sender's
// timestamp and the local clock, in either direction.
const DefaultTolerance = 60 * time.Second

// maxSkewSeconds bounds the timestamp before it is scaled to milliseconds so
// the multiplication cannot overflow.
const maxSkewSeconds = 1 << 32

// Reason is the internal diagnostic outcome of a verification. It is meant
// for logs and metrics only; callers answering a sender see a plain verdict.
type Reason int

const (
	ReasonOK Reason = iota
	ReasonMalformedTimestamp
	ReasonStaleTimestamp
	ReasonMalformedSignature
	ReasonLengthMismatch
	ReasonMismatch
)

func (r Reason) String() string {
	switch r {
	case ReasonOK:
		return "ok"
	case ReasonMalformedTimestamp:
		return "malformed_timestamp"
	case ReasonStaleTimestamp:
		return "stale_timestamp"
	case ReasonMalformedSignature:
		return "malformed_signature"
	case ReasonLengthMismatch:
		return "length_mismatch"
	case ReasonMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

type Option func(*Verifier)

// WithTolerance overrides DefaultTolerance. Non-positive values are ignored.
func WithTolerance(d time.Duration) Option {
	return func(v *Verifier) {
		if d > 0 {
			v.tolerance = d
		}
	}
}

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewVerifier copies secret; the Verifier never mutates it afterwards and is
// safe for concurrent use.
func NewVerifier(secret []byte, opts ...Option) *Verifier {
	v := &Verifier{
		secret:    append([]byte(nil), secret...),
		tolerance: DefaultTolerance,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify reports whether signatureHex is a valid, fresh signature of
// rawBody||timestamp.
func (v *Verifier) Verify(rawBody []byte, timestamp, signatureHex string) bool {
	return v.Check(rawBody, timestamp, signatureHex) == ReasonOK
}

// Check runs the same checks as Verify and returns the first one that failed.
func (v *Verifier) Check(rawBody []byte, timestamp, signatureHex string) Reason {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ReasonMalformedTimestamp
	}

	now := v.now()
	if nowSec := now.Unix(); ts > nowSec+maxSkewSeconds || ts < nowSec-maxSkewSeconds {
		return ReasonStaleTimestamp
	}
	ageMs := now.UnixMilli() - ts*1000
	if ageMs < 0 {
		ageMs = -ageMs
	}
	if ageMs > v.tolerance.Milliseconds() {
		return ReasonStaleTimestamp
	}

	expected := v.mac(rawBody, timestamp)

	received, err := hex.DecodeString(signatureHex)
	if err != nil {
		return ReasonMalformedSignature
	}
	if len(received) != len(expected) {
		return ReasonLengthMismatch
	}

	if subtle.ConstantTimeCompare(expected, received) != 1 {
		return ReasonMismatch
	}
	return ReasonOK
}

// Sign returns the lowercase hex signature a sender would attach to rawBody
// at the given timestamp.
func (v *Verifier) Sign(rawBody []byte, timestamp string) string {
	return hex.EncodeToString(v.mac(rawBody, timestamp))
}

func (v *Verifier) mac(rawBody []byte, timestamp string) []byte {
	mac := hmac.New(sha256.New, v.secret)
	_, _ = mac.Write(rawBody)
	_, _ = mac.Write([]byte(timestamp))
	return mac.Sum(nil)
}

// Verify is a one-shot helper using DefaultTolerance and the wall clock.
func Verify(secret, rawBody []byte, timestamp, signatureHex string) bool {
	return NewVerifier(secret).Verify(rawBody, timestamp, signatureHex)
}
