package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures the delivery log. An empty Path disables persistence.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means driver default
}

// Delivery statuses.
const (
	StatusSent     = "sent"     // provider accepted the message
	StatusRecorded = "recorded" // logged-only (development or degraded production)
	StatusFailed   = "failed"   // provider returned a failure
)

// DeliveryEntry records one dispatch outcome.
// Keep it compact and schema-stable.
type DeliveryEntry struct {
	At         time.Time
	EnvelopeID string
	Kind       string // "sms" | "email"
	Recipient  string
	Mode       string // delivery mode at the time of dispatch
	Status     string
	ProviderID string
	Error      string
	TookMS     int64
}
