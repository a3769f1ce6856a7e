package webhook

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/guonaihong/gout"
	"github.com/talkincode/toughwa/internal/domain"
	"go.uber.org/zap"
)

// Sink posts delivery outcomes and inbound messages to the backend webhooks.
type Sink struct {
	statusURL    string
	responsesURL string
	secret       string
	client       *http.Client
}

func NewSink(statusURL, responsesURL, secret string, timeout time.Duration) *Sink {
	return &Sink{
		statusURL:    strings.TrimSpace(statusURL),
		responsesURL: strings.TrimSpace(responsesURL),
		secret:       secret,
		client:       &http.Client{Timeout: timeout},
	}
}

// ReportOutcome posts one delivery outcome to the status webhook.
func (s *Sink) ReportOutcome(ctx context.Context, o domain.DeliveryOutcome) error {
	return s.post(ctx, s.statusURL, o)
}

// ForwardInbound posts an inbound message to the responses webhook.
func (s *Sink) ForwardInbound(ctx context.Context, p domain.InboundPayload) error {
	return s.post(ctx, s.responsesURL, p)
}

func (s *Sink) post(ctx context.Context, url string, body interface{}) error {
	if url == "" {
		zap.L().Debug("webhook: url not configured, skipping")
		return nil
	}
	var (
		code int
		resp string
	)
	err := gout.New(s.client).
		POST(url).
		WithContext(ctx).
		SetHeader(gout.H{"Authorization": "Bearer " + s.secret}).
		SetJSON(body).
		BindBody(&resp).
		Code(&code).
		Do()
	if err != nil {
		return fmt.Errorf("webhook post %s: %w", url, err)
	}
	if code < 200 || code > 299 {
		if len(resp) > 256 {
			resp = resp[:256]
		}
		return fmt.Errorf("webhook post %s: unexpected status %d: %s", url, code, resp)
	}
	return nil
}
