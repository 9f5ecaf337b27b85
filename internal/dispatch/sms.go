package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SMSConfig carries the HTTP gateway credentials. Account/Token are sent
// as basic auth; Endpoint is the full message-create URL.
type SMSConfig struct {
	Account  string
	Token    string
	Endpoint string
	From     string
}

// NewSMSProvider returns a Provider backed by a JSON-over-HTTP SMS
// gateway (Twilio-style message resource).
func NewSMSProvider(cfg SMSConfig) Provider {
	return &smsProvider{
		cfg: cfg,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type smsProvider struct {
	cfg    SMSConfig
	client *http.Client
}

func (p *smsProvider) Name() string { return "sms-gateway" }

func (p *smsProvider) Configured() bool {
	return p.cfg.Account != "" && p.cfg.Token != "" && p.cfg.Endpoint != ""
}

type smsRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type smsResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (p *smsProvider) Send(ctx context.Context, msg Message) (Result, error) {
	payload, err := json.Marshal(smsRequest{From: p.cfg.From, To: msg.To, Body: msg.Body})
	if err != nil {
		return Result{}, fmt.Errorf("encode sms request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(p.cfg.Account, p.cfg.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return Result{}, fmt.Errorf("read sms response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("sms gateway status %d: %s", resp.StatusCode, truncateASCII(body, 200))
	}

	var out smsResponse
	if err := json.Unmarshal(body, &out); err != nil {
		// Gateway accepted the message but returned something we can't
		// parse; treat as sent without a provider id.
		return Result{Success: true}, nil
	}
	if out.Error != "" {
		return Result{}, fmt.Errorf("sms gateway rejected message: %s", out.Error)
	}
	return Result{Success: true, ProviderID: out.ID}, nil
}

func truncateASCII(b []byte, maxN int) string {
	if len(b) > maxN {
		b = b[:maxN]
	}
	return string(b)
}
