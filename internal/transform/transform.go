// Package transform holds the stage applied to a validated payload before
// it is delivered. None of the transforms here provide confidentiality.
package transform

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// Names accepted by New.
const (
	NameIdentity   = "identity"
	NameDiagnostic = "diagnostic"
	NameXOR        = "xor"
)

var ErrEmptyKey = errors.New("transform: xor key must not be empty")

// Transform turns validated payload bytes into delivered content.
type Transform interface {
	Name() string
	Apply(payload []byte) ([]byte, error)
}

// Identity delivers the payload unchanged.
type Identity struct{}

func (Identity) Name() string { return NameIdentity }

func (Identity) Apply(payload []byte) ([]byte, error) {
	out := make([]byte, len(payload))
	copy(out, payload)
	return out, nil
}

// Diagnostic logs a hex dump of each payload at debug level and then
// delegates to Next.
type Diagnostic struct {
	Next   Transform
	Logger zerolog.Logger
}

func (d Diagnostic) Name() string {
	return NameDiagnostic + "(" + d.Next.Name() + ")"
}

func (d Diagnostic) Apply(payload []byte) ([]byte, error) {
	d.Logger.Debug().
		Int("len", len(payload)).
		Str("hex", strings.ToUpper(hex.EncodeToString(payload))).
		Msg("payload")
	return d.Next.Apply(payload)
}

// XOR is a repeating-key XOR placeholder. It is symmetric.
type XOR struct {
	Key []byte
}

func (XOR) Name() string { return NameXOR }

func (x XOR) Apply(payload []byte) ([]byte, error) {
	if len(x.Key) == 0 {
		return nil, ErrEmptyKey
	}
	out := make([]byte, len(payload))
	for i, b := range payload {
		out[i] = b ^ x.Key[i%len(x.Key)]
	}
	return out, nil
}

// NormalizeName maps a configured name onto one of the Name constants. An
// empty name selects identity.
func NormalizeName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "" {
		return NameIdentity
	}
	return n
}

// New selects a transform by name. key is used by xor only. When debug is
// true the result is wrapped in Diagnostic.
func New(name string, key []byte, debug bool, logger zerolog.Logger) (Transform, error) {
	var t Transform
	switch NormalizeName(name) {
	case NameIdentity:
		t = Identity{}
	case NameXOR:
		if len(key) == 0 {
			return nil, ErrEmptyKey
		}
		t = XOR{Key: append([]byte(nil), key...)}
	default:
		return nil, fmt.Errorf("unknown transform %q", name)
	}
	if debug {
		t = Diagnostic{Next: t, Logger: logger}
	}
	return t, nil
}
