package dispatch

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// EmailConfig carries SMTP settings for the email channel.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// NewEmailProvider returns a Provider that delivers plain-text mail over
// SMTP. Each Send dials a fresh connection; volume here is low enough
// that connection reuse is not worth the bookkeeping.
func NewEmailProvider(cfg EmailConfig) Provider {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &emailProvider{cfg: cfg}
}

type emailProvider struct {
	cfg EmailConfig
}

func (p *emailProvider) Name() string { return "smtp" }

func (p *emailProvider) Configured() bool {
	return p.cfg.Host != "" && p.cfg.From != ""
}

func (p *emailProvider) Send(ctx context.Context, msg Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", p.cfg.From)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/plain", msg.Body)

	d := gomail.NewDialer(p.cfg.Host, p.cfg.Port, p.cfg.Username, p.cfg.Password)

	// gomail has no context support; run the dial in a goroutine so a
	// canceled context at least unblocks the caller.
	errCh := make(chan error, 1)
	go func() { errCh <- d.DialAndSend(m) }()

	select {
	case err := <-errCh:
		if err != nil {
			return Result{}, fmt.Errorf("smtp send: %w", err)
		}
		return Result{Success: true}, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}
