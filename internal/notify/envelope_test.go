package notify

import (
	"errors"
	"testing"
)

func TestNewEnvelopes(t *testing.T) {
	sms := NewSMS("+15550001", "hello")
	if sms.ID == "" || sms.Kind != KindSMS || sms.EnqueuedAt.IsZero() {
		t.Fatalf("sms envelope = %+v", sms)
	}
	if sms.Recipient() != "+15550001" || sms.Body() != "hello" {
		t.Fatalf("accessors = %q / %q", sms.Recipient(), sms.Body())
	}

	email := NewEmail("a@example.org", "subj", "body")
	if email.Kind != KindEmail || email.Recipient() != "a@example.org" || email.Body() != "body" {
		t.Fatalf("email envelope = %+v", email)
	}
	if sms.ID == email.ID {
		t.Fatal("envelope IDs must be unique")
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name string
		env  Envelope
		ok   bool
	}{
		{"valid sms", NewSMS("+15550001", "x"), true},
		{"valid email", NewEmail("a@b.c", "s", "b"), true},
		{"sms without payload", Envelope{ID: "1", Kind: KindSMS}, false},
		{"sms without recipient", Envelope{ID: "1", Kind: KindSMS, SMS: &SMSPayload{Body: "x"}}, false},
		{"email without payload", Envelope{ID: "1", Kind: KindEmail}, false},
		{"unknown kind", Envelope{ID: "1", Kind: Kind("fax")}, false},
	}
	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrInvalidEnvelope) {
			t.Errorf("%s: want ErrInvalidEnvelope, got %v", tc.name, err)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	env := NewEmail("vol@example.org", "Shift reminder", "You are on at 9.")
	data, err := env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != env.ID || got.Kind != env.Kind {
		t.Fatalf("identity mismatch: %+v", got)
	}
	if got.Email == nil || got.Email.Subject != "Shift reminder" {
		t.Fatalf("payload mismatch: %+v", got.Email)
	}
	if !got.EnqueuedAt.Equal(env.EnqueuedAt) {
		t.Fatalf("timestamp mismatch: %v vs %v", got.EnqueuedAt, env.EnqueuedAt)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("{not json")); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("want ErrInvalidEnvelope, got %v", err)
	}
	// Well-formed JSON that fails validation.
	if _, err := Decode([]byte(`{"id":"1","kind":"sms"}`)); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("want ErrInvalidEnvelope, got %v", err)
	}
}

func TestEncodeRejectsInvalid(t *testing.T) {
	if _, err := (Envelope{ID: "1", Kind: KindSMS}).Encode(); !errors.Is(err, ErrInvalidEnvelope) {
		t.Fatalf("want ErrInvalidEnvelope, got %v", err)
	}
}
