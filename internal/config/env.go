package config

import "strings"

// ApplyEnv overlays environment-style overrides onto cfg. The getenv
// function is injected so tests don't have to mutate the process env.
//
// Only a fixed set of keys is recognized; anything else is ignored.
// Values are applied verbatim (duration strings are parsed later, at the
// same place file values are).
func ApplyEnv(cfg *Config, getenv func(string) string) {
	if cfg == nil || getenv == nil {
		return
	}

	set := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		switch strings.ToLower(strings.TrimSpace(getenv(key))) {
		case "1", "true", "yes", "on":
			*dst = true
		case "0", "false", "no", "off":
			*dst = false
		}
	}

	set("CARELINK_LOG_LEVEL", &cfg.Logging.Level)

	setBool("CARELINK_ENABLE_INVENTORY_CHECKS", &cfg.Scheduler.InventoryCheck.Enabled)
	set("CARELINK_INVENTORY_CHECK_INTERVAL", &cfg.Scheduler.InventoryCheck.Interval)
	setBool("CARELINK_ENABLE_REMINDER_EMAILS", &cfg.Scheduler.ReminderEmails.Enabled)
	set("CARELINK_REMINDER_EMAIL_INTERVAL", &cfg.Scheduler.ReminderEmails.Interval)

	set("CARELINK_QUEUE_ADDR", &cfg.Queue.Address)
	set("CARELINK_QUEUE_PASSWORD", &cfg.Queue.Password)
	set("CARELINK_QUEUE_STREAM", &cfg.Queue.Stream)

	set("CARELINK_MODE", &cfg.Dispatch.Mode)
	set("CARELINK_SMS_ACCOUNT", &cfg.Dispatch.SMS.Account)
	set("CARELINK_SMS_TOKEN", &cfg.Dispatch.SMS.Token)
	set("CARELINK_SMS_ENDPOINT", &cfg.Dispatch.SMS.Endpoint)
	set("CARELINK_SMS_FROM", &cfg.Dispatch.SMS.From)
	set("CARELINK_EMAIL_HOST", &cfg.Dispatch.Email.Host)
	set("CARELINK_EMAIL_USERNAME", &cfg.Dispatch.Email.Username)
	set("CARELINK_EMAIL_PASSWORD", &cfg.Dispatch.Email.Password)
	set("CARELINK_EMAIL_FROM", &cfg.Dispatch.Email.From)

	set("CARELINK_COORDINATOR_EMAIL", &cfg.Reminders.CoordinatorEmail)

	set("CARELINK_REALTIME_ADDR", &cfg.Realtime.Addr)
	set("CARELINK_STORAGE_PATH", &cfg.Storage.Path)
}
