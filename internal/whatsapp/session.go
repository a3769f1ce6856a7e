package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrNotReady        = errors.New("whatsapp session is not ready")
	ErrSessionClosed   = errors.New("whatsapp session closed")
	ErrSessionNotFound = errors.New("whatsapp session not found")
)

// Snapshot is a consistent copy of a session's observable fields.
type Snapshot struct {
	TenantID  string
	State     State
	QR        string
	Phone     string
	Reason    string
	CreatedAt time.Time
}

// Session owns the automated client of one tenant.
type Session struct {
	tenantID  string
	client    Client
	createdAt time.Time

	mu      sync.Mutex
	state   State
	qr      string
	phone   string
	reason  string
	changed chan struct{}

	listening atomic.Bool
}

func newSession(tenantID string, client Client) *Session {
	return &Session{
		tenantID:  tenantID,
		client:    client,
		createdAt: time.Now(),
		changed:   make(chan struct{}),
	}
}

func (s *Session) TenantID() string { return s.tenantID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		TenantID:  s.tenantID,
		State:     s.state,
		QR:        s.qr,
		Phone:     s.phone,
		Reason:    s.reason,
		CreatedAt: s.createdAt,
	}
}

// broadcastLocked wakes every Await caller.
func (s *Session) broadcastLocked() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) apply(ev Event) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, ok := Next(s.state, ev.Kind)
	if !ok {
		return s.state, false
	}
	s.state = next
	switch next {
	case StateQRPending:
		s.qr = ev.QR
	case StateAuthenticated:
		s.qr = ""
	case StateReady:
		s.qr = ""
		if ev.Phone != "" {
			s.phone = ev.Phone
		} else {
			s.phone = s.client.PhoneID()
		}
	case StateAuthFailed, StateDisconnected:
		s.reason = ev.Reason
	}
	s.broadcastLocked()
	return next, true
}

// close forces the session into disconnected, reporting whether it moved.
func (s *Session) close(reason string) bool {
	_, ok := s.apply(Event{Kind: EventDisconnected, Reason: reason})
	return ok
}

// Await blocks until the session is ready or has a QR challenge pending.
// It fails with ErrSessionClosed once the session ends and with the context
// error when ctx is done first.
func (s *Session) Await(ctx context.Context) (Snapshot, error) {
	for {
		s.mu.Lock()
		snap := s.snapshotLocked()
		changed := s.changed
		s.mu.Unlock()

		switch {
		case snap.State == StateReady, snap.State == StateQRPending:
			return snap, nil
		case snap.State.Terminal():
			return snap, fmt.Errorf("%w: %s", ErrSessionClosed, snap.Reason)
		}
		select {
		case <-ctx.Done():
			return snap, ctx.Err()
		case <-changed:
		}
	}
}

// CheckReady queries the client's live connectivity. A session is usable
// only when it reached ready and the client still reports CONNECTED.
func (s *Session) CheckReady(ctx context.Context) error {
	if st := s.State(); st != StateReady {
		return fmt.Errorf("%w: state %s", ErrNotReady, st)
	}
	conn, err := s.client.Connectivity(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	if conn != Connected {
		return fmt.Errorf("%w: client %s", ErrNotReady, conn)
	}
	return nil
}

// SendText sends through the session's client.
func (s *Session) SendText(ctx context.Context, to, text string) error {
	return s.client.SendText(ctx, to, text)
}

// Listening reports whether inbound messages are being forwarded.
func (s *Session) Listening() bool {
	return s.listening.Load()
}
