// Package codec converts raw terminal bytes to and from the text-safe form
// carried on the event bus.
//
// Terminal input and output are arbitrary byte sequences (escape sequences,
// partial UTF-8, NUL). The bus is a text channel, so every payload travels as
// standard base64 of the exact bytes.
package codec

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// ErrMalformed is returned when a transport string is not valid base64.
var ErrMalformed = errors.New("malformed transport payload")

// Encode returns the transport form of b.
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// EncodeString returns the transport form of the bytes of s. The string is
// not reinterpreted, so "\x1b[D" encodes the three bytes 0x1b '[' 'D'.
func EncodeString(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// Decode returns the bytes carried by s. ASCII whitespace is ignored so that
// line-wrapped payloads decode too.
func Decode(s string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r < unicode.MaxASCII && unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	out, err := base64.StdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if out == nil {
		out = []byte{}
	}
	return out, nil
}

// DecodeFrame is Decode for the render path: a malformed frame is logged and
// dropped instead of returned as an error.
func DecodeFrame(log *zap.Logger, s string) ([]byte, bool) {
	out, err := Decode(s)
	if err != nil {
		if log != nil {
			log.Warn("dropping malformed frame", zap.Error(err), zap.Int("len", len(s)))
		}
		return nil, false
	}
	return out, true
}
