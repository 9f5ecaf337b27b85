// Package notify defines the notification envelope: the single queued
// unit that flows from the reminder service through the queue to the
// dispatch adapter.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind selects the delivery channel for an envelope.
type Kind string

const (
	KindSMS   Kind = "sms"
	KindEmail Kind = "email"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

type SMSPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

type EmailPayload struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// Envelope is immutable after creation. Exactly one of SMS/Email is set,
// matching Kind. The ID doubles as an idempotency key for callers that
// need to deduplicate redeliveries; the pipeline itself does not dedup.
type Envelope struct {
	ID         string        `json:"id"`
	Kind       Kind          `json:"kind"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
	SMS        *SMSPayload   `json:"sms,omitempty"`
	Email      *EmailPayload `json:"email,omitempty"`
}

func NewSMS(to, body string) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       KindSMS,
		EnqueuedAt: time.Now().UTC(),
		SMS:        &SMSPayload{To: to, Body: body},
	}
}

func NewEmail(to, subject, body string) Envelope {
	return Envelope{
		ID:         uuid.NewString(),
		Kind:       KindEmail,
		EnqueuedAt: time.Now().UTC(),
		Email:      &EmailPayload{To: to, Subject: subject, Body: body},
	}
}

func (e Envelope) Validate() error {
	switch e.Kind {
	case KindSMS:
		if e.SMS == nil || e.SMS.To == "" {
			return fmt.Errorf("%w: sms payload missing", ErrInvalidEnvelope)
		}
	case KindEmail:
		if e.Email == nil || e.Email.To == "" {
			return fmt.Errorf("%w: email payload missing", ErrInvalidEnvelope)
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidEnvelope, string(e.Kind))
	}
	return nil
}

// Recipient returns the destination address for the envelope's channel.
func (e Envelope) Recipient() string {
	switch e.Kind {
	case KindSMS:
		if e.SMS != nil {
			return e.SMS.To
		}
	case KindEmail:
		if e.Email != nil {
			return e.Email.To
		}
	}
	return ""
}

// Body returns the message content for the envelope's channel.
func (e Envelope) Body() string {
	switch e.Kind {
	case KindSMS:
		if e.SMS != nil {
			return e.SMS.Body
		}
	case KindEmail:
		if e.Email != nil {
			return e.Email.Body
		}
	}
	return ""
}

// Encode serializes the envelope for the durable backend's record value.
func (e Envelope) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Decode parses a durable-backend record value back into an envelope.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if err := e.Validate(); err != nil {
		return Envelope{}, err
	}
	return e, nil
}
