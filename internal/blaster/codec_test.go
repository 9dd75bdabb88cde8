package blaster

import (
	"testing"
)

func TestCanonicalDigestInputWithArgstr(t *testing.T) {
	got := CanonicalDigestInput([]byte{0x01, 0x02}, 1700000000, "ping", "hello")
	want := string([]byte{0x01, 0x02}) + "1700000000" + "ping" + " " + "hello"
	if string(got) != want {
		t.Fatalf("CanonicalDigestInput = %q, want %q", got, want)
	}
}

func TestCanonicalDigestInputWithoutArgstr(t *testing.T) {
	got := CanonicalDigestInput([]byte{0xFF}, 42, "ping", "")
	want := string([]byte{0xFF}) + "42" + "ping"
	if string(got) != want {
		t.Fatalf("CanonicalDigestInput = %q, want %q", got, want)
	}
}

func TestEnvelopeSignerID(t *testing.T) {
	cases := map[string]string{
		"host1.public":  "host1",
		"a.b.c.public":  "a.b.c",
		"noext":         "noext",
		"trailing.":     "trailing",
	}
	for key, want := range cases {
		e := Envelope{Key: key}
		if got := e.SignerID(); got != want {
			t.Errorf("SignerID(%q) = %q, want %q", key, got, want)
		}
	}
}

func TestEnvelopeMagicInt(t *testing.T) {
	e := Envelope{Magic: []byte{0x01, 0x00}}
	if got := e.MagicInt().Int64(); got != 256 {
		t.Errorf("MagicInt() = %d, want 256", got)
	}
}

func TestEnvelopeRoundTripJSON(t *testing.T) {
	env := Envelope{Action: "ping", Argstr: "x", Magic: []byte{1, 2, 3}, Time: 123, Key: "host.public", Signature: []byte{9, 9}}
	body, err := EncodeEnvelope(ContentTypeJSON, env)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	got, err := DecodeEnvelope(ContentTypeJSON, body)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if got.Action != env.Action || got.Key != env.Key || got.Time != env.Time {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, env)
	}
}

func TestEnvelopeRoundTripPickle(t *testing.T) {
	env := Envelope{Action: "list", Magic: []byte{7}, Time: 7, Key: "k.public"}
	body, err := EncodeEnvelope(ContentTypePickle, env)
	if err != nil {
		t.Fatalf("EncodeEnvelope: %v", err)
	}
	got, err := DecodeEnvelope(ContentTypePickle, body)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if got.Action != env.Action {
		t.Errorf("Action = %q, want %q", got.Action, env.Action)
	}
}

func TestEncodeEnvelopeUnknownContentType(t *testing.T) {
	if _, err := EncodeEnvelope("text/plain", Envelope{}); err == nil {
		t.Fatal("expected error for unknown content type")
	}
}

func TestResultRoundTripWithExtra(t *testing.T) {
	r := Result{Code: 0, Description: "pong", Error: false, Extra: map[string]any{"actions": []any{"ping", "help"}}}
	body, err := EncodeResult(ContentTypeJSON, r)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	got, err := DecodeResult(ContentTypeJSON, body)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if got.Code != r.Code || got.Description != r.Description {
		t.Errorf("mismatch: got %+v", got)
	}
	if _, ok := got.Extra["actions"]; !ok {
		t.Errorf("expected extra field 'actions' to survive round trip, got %+v", got.Extra)
	}
}

func TestResultStacktraceOmittedWhenEmpty(t *testing.T) {
	r := Result{Code: 0, Description: "ok"}
	body, err := EncodeResult(ContentTypeJSON, r)
	if err != nil {
		t.Fatalf("EncodeResult: %v", err)
	}
	got, err := DecodeResult(ContentTypeJSON, body)
	if err != nil {
		t.Fatalf("DecodeResult: %v", err)
	}
	if got.Stacktrace != "" {
		t.Errorf("Stacktrace = %q, want empty", got.Stacktrace)
	}
}
