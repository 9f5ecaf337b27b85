// Package reminder builds the notification content for the recurring
// charity-management jobs: shift reminder emails for volunteers, visit
// reminder SMS for clients, and expiring-inventory alerts for
// coordinators. The data sources are collaborator interfaces so the
// pipeline stays decoupled from the ORM layer that owns the records.
package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"carelink/internal/dispatch"
	"carelink/internal/notify"
	"carelink/pkg/logx"
)

// Shift is one upcoming volunteer shift needing a reminder.
type Shift struct {
	VolunteerName  string
	VolunteerEmail string
	Role           string
	Location       string
	StartsAt       time.Time
}

// Visit is one upcoming client visit needing a reminder.
type Visit struct {
	ClientName    string
	ClientPhone   string
	CaregiverName string
	ScheduledAt   time.Time
}

// InventoryItem is a supply item approaching its expiry date.
type InventoryItem struct {
	Name     string
	Quantity int
	Expires  time.Time
}

type ShiftSource interface {
	UpcomingShifts(ctx context.Context, within time.Duration) ([]Shift, error)
}

type VisitSource interface {
	UpcomingVisits(ctx context.Context, within time.Duration) ([]Visit, error)
}

type InventorySource interface {
	ExpiringItems(ctx context.Context, within time.Duration) ([]InventoryItem, error)
}

// Enqueuer is the slice of the queue the service needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, env notify.Envelope) (<-chan struct{}, error)
}

// Sender is the slice of the dispatcher used by the send-now bypass.
type Sender interface {
	Send(ctx context.Context, env notify.Envelope) (dispatch.Result, error)
}

type Config struct {
	// ReminderWindow is how far ahead the sweeps look. Defaults to 24h.
	ReminderWindow time.Duration
	// InventoryWindow is the expiry horizon. Defaults to 7 days.
	InventoryWindow time.Duration
	// CoordinatorEmail receives inventory alerts. Empty disables them.
	CoordinatorEmail string
}

type Service struct {
	cfg       Config
	shifts    ShiftSource
	visits    VisitSource
	inventory InventorySource
	queue     Enqueuer
	sender    Sender
	log       logx.Logger
}

func New(cfg Config, shifts ShiftSource, visits VisitSource, inventory InventorySource, queue Enqueuer, sender Sender, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = 24 * time.Hour
	}
	if cfg.InventoryWindow <= 0 {
		cfg.InventoryWindow = 7 * 24 * time.Hour
	}
	return &Service{
		cfg:       cfg,
		shifts:    shifts,
		visits:    visits,
		inventory: inventory,
		queue:     queue,
		sender:    sender,
		log:       log,
	}
}

// SweepReminders is the reminder-emails task body. Source errors abort
// the sweep; per-envelope enqueue failures are logged and skipped so one
// bad record cannot starve the rest of the batch.
func (s *Service) SweepReminders(ctx context.Context) error {
	queued := 0

	if s.shifts != nil {
		shifts, err := s.shifts.UpcomingShifts(ctx, s.cfg.ReminderWindow)
		if err != nil {
			return fmt.Errorf("load upcoming shifts: %w", err)
		}
		for _, sh := range shifts {
			if sh.VolunteerEmail == "" {
				continue
			}
			if s.enqueue(ctx, ShiftReminderEmail(sh)) {
				queued++
			}
		}
	}

	if s.visits != nil {
		visits, err := s.visits.UpcomingVisits(ctx, s.cfg.ReminderWindow)
		if err != nil {
			return fmt.Errorf("load upcoming visits: %w", err)
		}
		for _, v := range visits {
			if v.ClientPhone == "" {
				continue
			}
			if s.enqueue(ctx, VisitReminderSMS(v)) {
				queued++
			}
		}
	}

	s.log.Info("reminder sweep complete", logx.Int("queued", queued))
	return nil
}

// SweepInventory is the inventory-check task body. All expiring items
// are folded into a single coordinator email per sweep.
func (s *Service) SweepInventory(ctx context.Context) error {
	if s.inventory == nil || s.cfg.CoordinatorEmail == "" {
		s.log.Debug("inventory sweep skipped, no source or coordinator configured")
		return nil
	}
	items, err := s.inventory.ExpiringItems(ctx, s.cfg.InventoryWindow)
	if err != nil {
		return fmt.Errorf("load expiring inventory: %w", err)
	}
	if len(items) == 0 {
		return nil
	}
	env := InventoryAlertEmail(s.cfg.CoordinatorEmail, items, s.cfg.InventoryWindow)
	if s.enqueue(ctx, env) {
		s.log.Info("inventory alert queued", logx.Int("items", len(items)))
	}
	return nil
}

// SendNow bypasses the queue and returns the delivery result
// synchronously. This is the path for user-triggered confirmations that
// need to report success or failure immediately.
func (s *Service) SendNow(ctx context.Context, env notify.Envelope) (dispatch.Result, error) {
	return s.sender.Send(ctx, env)
}

func (s *Service) enqueue(ctx context.Context, env notify.Envelope) bool {
	if _, err := s.queue.Enqueue(ctx, env); err != nil {
		s.log.Warn("reminder enqueue failed",
			logx.String("kind", string(env.Kind)),
			logx.Err(err))
		return false
	}
	return true
}

// ShiftReminderEmail renders one volunteer shift reminder.
func ShiftReminderEmail(sh Shift) notify.Envelope {
	when := sh.StartsAt.Format("Monday, Jan 2 at 3:04 PM")
	subject := fmt.Sprintf("Shift reminder: %s on %s", sh.Role, sh.StartsAt.Format("Jan 2"))
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s,\n\n", sh.VolunteerName)
	fmt.Fprintf(&b, "This is a reminder that you are scheduled for a %s shift on %s", sh.Role, when)
	if sh.Location != "" {
		fmt.Fprintf(&b, " at %s", sh.Location)
	}
	b.WriteString(".\n\nIf you can no longer make it, please update your availability as soon as possible.\n\nThank you for volunteering!")
	return notify.NewEmail(sh.VolunteerEmail, subject, b.String())
}

// VisitReminderSMS renders one client visit reminder.
func VisitReminderSMS(v Visit) notify.Envelope {
	when := v.ScheduledAt.Format("Mon Jan 2 at 3:04 PM")
	body := fmt.Sprintf("Reminder: %s will visit on %s.", v.CaregiverName, when)
	if v.CaregiverName == "" {
		body = fmt.Sprintf("Reminder: your visit is scheduled for %s.", when)
	}
	return notify.NewSMS(v.ClientPhone, body)
}

// InventoryAlertEmail folds expiring items into one coordinator digest.
func InventoryAlertEmail(to string, items []InventoryItem, window time.Duration) notify.Envelope {
	subject := fmt.Sprintf("Inventory alert: %d item(s) expiring soon", len(items))
	var b strings.Builder
	fmt.Fprintf(&b, "The following supplies expire within %s:\n\n", window)
	for _, it := range items {
		fmt.Fprintf(&b, "  - %s (qty %d) expires %s\n", it.Name, it.Quantity, it.Expires.Format("2006-01-02"))
	}
	b.WriteString("\nPlease review and restock as needed.")
	return notify.NewEmail(to, subject, b.String())
}
