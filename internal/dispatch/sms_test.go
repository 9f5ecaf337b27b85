package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSMSProviderSend(t *testing.T) {
	var got smsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "acct" || pass != "tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(smsResponse{ID: "sm-1", Status: "queued"})
	}))
	defer srv.Close()

	p := NewSMSProvider(SMSConfig{Account: "acct", Token: "tok", Endpoint: srv.URL, From: "+15550000"})
	if !p.Configured() {
		t.Fatal("provider should be configured")
	}

	res, err := p.Send(context.Background(), Message{To: "+15550001", Body: "hi"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.ProviderID != "sm-1" {
		t.Fatalf("provider id = %q", res.ProviderID)
	}
	if got.To != "+15550001" || got.From != "+15550000" || got.Body != "hi" {
		t.Fatalf("gateway saw %+v", got)
	}
}

func TestSMSProviderGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewSMSProvider(SMSConfig{Account: "a", Token: "t", Endpoint: srv.URL})
	_, err := p.Send(context.Background(), Message{To: "+15550001", Body: "hi"})
	if err == nil {
		t.Fatal("want error on non-2xx status")
	}
	if !strings.Contains(err.Error(), "502") {
		t.Fatalf("error should carry the status: %v", err)
	}
}

func TestSMSProviderUnconfigured(t *testing.T) {
	p := NewSMSProvider(SMSConfig{})
	if p.Configured() {
		t.Fatal("empty config must report unconfigured")
	}
}
