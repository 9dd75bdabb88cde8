// Package blaster implements the signed, connectionless fan-out RPC
// protocol described in spec §4.3–§4.5: a two-phase prime-nonce handshake
// followed by one RSA-signed broadcast envelope.
package blaster

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strconv"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/droned/droned/internal/domain"
)

// Content types the server and client both must support (spec §4.3).
const (
	ContentTypeJSON   = "application/droned-json"
	ContentTypePickle = "application/droned-pickle"
)

// Envelope is the wire representation of a blaster command request, per
// spec §6.
type Envelope struct {
	Action    string `json:"action" msgpack:"action"`
	Argstr    string `json:"argstr" msgpack:"argstr"`
	Magic     []byte `json:"magic" msgpack:"magic"`
	Time      int64  `json:"time" msgpack:"time"`
	Key       string `json:"key" msgpack:"key"`
	Signature []byte `json:"signature" msgpack:"signature"`
}

// MagicInt decodes Magic as a big-endian unsigned integer.
func (e Envelope) MagicInt() *big.Int {
	return new(big.Int).SetBytes(e.Magic)
}

// SignerID strips a trailing ".<suffix>" from Key, per spec §6.
func (e Envelope) SignerID() string {
	for i := len(e.Key) - 1; i >= 0; i-- {
		if e.Key[i] == '.' {
			return e.Key[:i]
		}
	}
	return e.Key
}

// CanonicalDigestInput builds the byte string that is SHA-1 hashed and
// then RSA-signed, per spec §4.3/§6:
//
//	magic || decimal_ascii(time) || action [|| " " || argstr]
func CanonicalDigestInput(magic []byte, unixTime int64, action, argstr string) []byte {
	var buf bytes.Buffer
	buf.Write(magic)
	buf.WriteString(strconv.FormatInt(unixTime, 10))
	buf.WriteString(action)
	if argstr != "" {
		buf.WriteByte(' ')
		buf.WriteString(argstr)
	}
	return buf.Bytes()
}

// Result is the canonical response envelope, per spec §6/§7.
type Result struct {
	Code        int            `json:"code" msgpack:"code"`
	Description string         `json:"description" msgpack:"description"`
	Error       bool           `json:"error" msgpack:"error"`
	Stacktrace  string         `json:"stacktrace,omitempty" msgpack:"stacktrace,omitempty"`
	Extra       map[string]any `json:"-" msgpack:"-"`
}

// toMap flattens Extra fields alongside the fixed Result
// fields when encoding to JSON or msgpack, since neither format has a
// native "embed a map of extra fields" concept compatible with struct tags.
func (r Result) toMap() map[string]any {
	m := map[string]any{
		"code":        r.Code,
		"description": r.Description,
		"error":       r.Error,
	}
	if r.Stacktrace != "" {
		m["stacktrace"] = r.Stacktrace
	}
	for k, v := range r.Extra {
		m[k] = v
	}
	return m
}

func resultFromMap(m map[string]any) Result {
	r := Result{Extra: map[string]any{}}
	for k, v := range m {
		switch k {
		case "code":
			r.Code = toInt(v)
		case "description":
			r.Description, _ = v.(string)
		case "error":
			r.Error, _ = v.(bool)
		case "stacktrace":
			r.Stacktrace, _ = v.(string)
		default:
			r.Extra[k] = v
		}
	}
	return r
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// EncodeEnvelope serializes env for the given content type.
func EncodeEnvelope(contentType string, env Envelope) ([]byte, error) {
	switch contentType {
	case ContentTypeJSON:
		return json.Marshal(env)
	case ContentTypePickle:
		return msgpack.Marshal(env)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownContentType, contentType)
	}
}

// DecodeEnvelope parses body according to contentType.
func DecodeEnvelope(contentType string, body []byte) (Envelope, error) {
	var env Envelope
	switch contentType {
	case ContentTypeJSON:
		if err := json.Unmarshal(body, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode json envelope: %w", err)
		}
	case ContentTypePickle:
		if err := msgpack.Unmarshal(body, &env); err != nil {
			return Envelope{}, fmt.Errorf("decode pickle envelope: %w", err)
		}
	default:
		return Envelope{}, fmt.Errorf("%w: %s", domain.ErrUnknownContentType, contentType)
	}
	return env, nil
}

// EncodeResult serializes a result envelope for the given content type.
func EncodeResult(contentType string, r Result) ([]byte, error) {
	m := r.toMap()
	switch contentType {
	case ContentTypeJSON:
		return json.Marshal(m)
	case ContentTypePickle:
		return msgpack.Marshal(m)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownContentType, contentType)
	}
}

// DecodeResult parses a result envelope.
func DecodeResult(contentType string, body []byte) (Result, error) {
	m := map[string]any{}
	switch contentType {
	case ContentTypeJSON:
		if err := json.Unmarshal(body, &m); err != nil {
			return Result{}, fmt.Errorf("decode json result: %w", err)
		}
	case ContentTypePickle:
		if err := msgpack.Unmarshal(body, &m); err != nil {
			return Result{}, fmt.Errorf("decode pickle result: %w", err)
		}
	default:
		return Result{}, fmt.Errorf("%w: %s", domain.ErrUnknownContentType, contentType)
	}
	return resultFromMap(m), nil
}
