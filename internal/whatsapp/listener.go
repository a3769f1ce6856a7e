package whatsapp

import (
	"context"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/talkincode/toughwa/internal/domain"
	"go.uber.org/zap"
)

const statusBroadcast = "status@broadcast"

// InboundSink receives forwarded inbound messages.
type InboundSink interface {
	ForwardInbound(ctx context.Context, p domain.InboundPayload) error
}

// Listener forwards inbound messages of ready sessions to the responses
// webhook on a bounded pool, so a slow webhook never stalls an event pump.
type Listener struct {
	sink    InboundSink
	pool    *ants.Pool
	timeout time.Duration
}

func NewListener(sink InboundSink, workers int, timeout time.Duration) (*Listener, error) {
	pool, err := ants.NewPool(workers,
		ants.WithNonblocking(true),
		ants.WithPanicHandler(func(p interface{}) {
			zap.S().Errorf("whatsapp: inbound forward panic: %v", p)
		}),
	)
	if err != nil {
		return nil, err
	}
	return &Listener{sink: sink, pool: pool, timeout: timeout}, nil
}

// Accept reports whether msg is forwarded at all.
func Accept(msg InboundMessage) bool {
	if msg.Status || strings.HasPrefix(msg.From, statusBroadcast) {
		return false
	}
	return !msg.FromMe
}

// Dispatch queues msg for forwarding. It returns false when the message is
// filtered out or the pool is saturated.
func (l *Listener) Dispatch(tenantID string, msg InboundMessage) bool {
	if !Accept(msg) {
		return false
	}
	payload := domain.InboundPayload{
		UserId:    tenantID,
		Phone:     msg.From,
		Message:   msg.Body,
		Timestamp: msg.Timestamp.UTC(),
	}
	err := l.pool.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		defer cancel()
		if err := l.sink.ForwardInbound(ctx, payload); err != nil {
			zap.L().Error("whatsapp: forward inbound message failed",
				zap.String("tenant", tenantID), zap.String("phone", payload.Phone), zap.Error(err))
			return
		}
		zap.L().Debug("whatsapp: inbound message forwarded", zap.String("tenant", tenantID), zap.String("phone", payload.Phone))
	})
	if err != nil {
		zap.L().Warn("whatsapp: inbound message dropped", zap.String("tenant", tenantID), zap.Error(err))
		return false
	}
	return true
}

// Running returns the number of forwards in flight.
func (l *Listener) Running() int {
	return l.pool.Running()
}

func (l *Listener) Release() {
	l.pool.Release()
}
