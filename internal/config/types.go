package config

// Config is the full configuration surface of the notification pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// The file may be JSON or YAML; env overrides are applied on top (see env.go).
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Queue     QueueConfig     `json:"queue"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Reminders RemindersConfig `json:"reminders,omitempty"`
	Realtime  RealtimeConfig  `json:"realtime,omitempty"`
	Storage   StorageConfig   `json:"storage,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig declares the recurring background jobs. Each job is
// independently enable/disable-able; disabled jobs are logged and skipped.
type SchedulerConfig struct {
	InventoryCheck TaskConfig `json:"inventory_check"`
	ReminderEmails TaskConfig `json:"reminder_emails"`
}

// TaskConfig configures one recurring task.
//
// Interval is a Go duration string. A missing, zero or negative interval
// is coerced to a safe default at startup (with a warning) rather than
// rejected: configuration problems must never be fatal.
type TaskConfig struct {
	Enabled    bool   `json:"enabled"`
	Interval   string `json:"interval"`
	RunAtStart bool   `json:"run_at_start,omitempty"`
}

// QueueConfig selects the durable backend. An empty Address means the
// in-memory fallback is used from the start.
type QueueConfig struct {
	Address  string `json:"address,omitempty"`
	Password string `json:"password,omitempty"`
	DB       int    `json:"db,omitempty"`
	// Stream is the durable stream key. Defaults to "carelink:notifications".
	Stream string `json:"stream,omitempty"`
	// ReadBlock bounds a single blocking read. "0s" blocks indefinitely.
	ReadBlock string `json:"read_block,omitempty"`
}

// DispatchConfig governs outbound delivery.
//
// Mode is one of "production", "development", "disabled" and is fixed for
// the process lifetime once the dispatcher is constructed.
type DispatchConfig struct {
	Mode       string      `json:"mode"`
	PreviewLen int         `json:"preview_len,omitempty"`
	RatePerSec int         `json:"rate_per_sec,omitempty"`
	SMS        SMSConfig   `json:"sms,omitempty"`
	Email      EmailConfig `json:"email,omitempty"`
}

// SMSConfig holds gateway credentials. With any of Account/Token empty,
// production sends degrade to logging-only (never block the caller on
// missing config).
type SMSConfig struct {
	Account  string `json:"account,omitempty"`
	Token    string `json:"token,omitempty"`
	Endpoint string `json:"endpoint,omitempty"`
	From     string `json:"from,omitempty"`
}

type EmailConfig struct {
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	From     string `json:"from,omitempty"`
}

// RemindersConfig shapes the content side of the recurring sweeps.
type RemindersConfig struct {
	// CoordinatorEmail receives the expiring-inventory digest. Empty
	// disables inventory alerts even when the sweep runs.
	CoordinatorEmail string `json:"coordinator_email,omitempty"`
	// ReminderWindow is how far ahead shift/visit sweeps look. Default "24h".
	ReminderWindow string `json:"reminder_window,omitempty"`
	// InventoryWindow is the expiry horizon. Default "168h".
	InventoryWindow string `json:"inventory_window,omitempty"`
}

// RealtimeConfig configures both the server hub endpoint and the client
// connection manager defaults.
type RealtimeConfig struct {
	Addr string `json:"addr,omitempty"` // hub listen address, e.g. "127.0.0.1:8090"
	Path string `json:"path,omitempty"` // websocket path, default "/ws"

	Keepalive     string `json:"keepalive,omitempty"`      // default "30s"
	BaseDelay     string `json:"base_delay,omitempty"`     // default "1s"
	AbnormalDelay string `json:"abnormal_delay,omitempty"` // default "3s"
	MaxAttempts   int    `json:"max_attempts,omitempty"`   // default 5
	Cooldown      string `json:"cooldown,omitempty"`       // default "5m"
}

// StorageConfig controls the delivery log.
//
// An empty Path disables persistence; dispatch outcomes are then only
// logged.
type StorageConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}
