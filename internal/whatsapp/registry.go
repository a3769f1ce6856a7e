package whatsapp

import (
	"context"
	"fmt"
	"sync"

	EventBus "github.com/asaskevich/EventBus"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TopicSessionState is published with a StateChange whenever a session
// becomes ready or ends.
const TopicSessionState = "session:state"

type StateChange struct {
	TenantID string
	State    State
	Phone    string
	Reason   string
}

// Registry holds at most one session per tenant.
type Registry struct {
	factory  ClientFactory
	bus      EventBus.Bus
	listener *Listener

	mu       sync.Mutex
	sessions map[string]*Session
	group    singleflight.Group
	pumps    sync.WaitGroup
}

type Option func(*Registry)

// WithBus publishes lifecycle changes on bus.
func WithBus(bus EventBus.Bus) Option {
	return func(r *Registry) { r.bus = bus }
}

// WithListener forwards inbound messages of ready sessions through l.
func WithListener(l *Listener) Option {
	return func(r *Registry) { r.listener = l }
}

func NewRegistry(factory ClientFactory, opts ...Option) *Registry {
	r := &Registry{factory: factory, sessions: make(map[string]*Session)}
	for _, o := range opts {
		o(r)
	}
	return r
}

type createResult struct {
	session *Session
	created bool
}

// Create returns the tenant's session, building and connecting a new one
// when none exists. Connecting runs in the background; callers use
// Session.Await to observe progress. created is true when this call, or a
// concurrent one it joined, built the session.
func (r *Registry) Create(ctx context.Context, tenantID string) (*Session, bool, error) {
	if s, ok := r.Get(tenantID); ok {
		return s, false, nil
	}
	v, err, _ := r.group.Do(tenantID, func() (interface{}, error) {
		if s, ok := r.Get(tenantID); ok {
			return createResult{session: s}, nil
		}
		client, err := r.factory(context.WithoutCancel(ctx), tenantID)
		if err != nil {
			return nil, fmt.Errorf("create client for %s: %w", tenantID, err)
		}
		s := newSession(tenantID, client)
		r.mu.Lock()
		r.sessions[tenantID] = s
		r.mu.Unlock()

		zap.L().Info("whatsapp: session created", zap.String("tenant", tenantID))
		r.pumps.Add(1)
		go r.pump(s)
		go r.connect(s)
		return createResult{session: s, created: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	res := v.(createResult)
	return res.session, res.created, nil
}

func (r *Registry) Get(tenantID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[tenantID]
	return s, ok
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// CountState counts sessions currently in st.
func (r *Registry) CountState(st State) int {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	n := 0
	for _, s := range sessions {
		if s.State() == st {
			n++
		}
	}
	return n
}

func (r *Registry) connect(s *Session) {
	if err := s.client.Connect(context.Background()); err != nil {
		zap.L().Warn("whatsapp: client connect failed", zap.String("tenant", s.tenantID), zap.Error(err))
		r.handle(s, Event{Kind: EventAuthFailed, Reason: err.Error()})
	}
}

func (r *Registry) pump(s *Session) {
	defer r.pumps.Done()
	for ev := range s.client.Events() {
		r.handle(s, ev)
	}
}

func (r *Registry) handle(s *Session, ev Event) {
	if ev.Kind == EventMessage {
		if ev.Inbound != nil && r.listener != nil && s.Listening() {
			r.listener.Dispatch(s.tenantID, *ev.Inbound)
		}
		return
	}
	next, ok := s.apply(ev)
	if !ok {
		zap.L().Debug("whatsapp: event ignored", zap.String("tenant", s.tenantID),
			zap.String("event", ev.Kind.String()), zap.String("state", next.String()))
		return
	}
	log := zap.L().With(zap.String("tenant", s.tenantID), zap.String("state", next.String()))
	switch next {
	case StateQRPending:
		log.Info("whatsapp: qr challenge issued")
	case StateAuthenticated:
		log.Info("whatsapp: authenticated")
	case StateReady:
		snap := s.Snapshot()
		log.Info("whatsapp: client ready", zap.String("phone", snap.Phone))
		if s.listening.CompareAndSwap(false, true) {
			log.Info("whatsapp: inbound listener activated")
		}
		r.publish(snap)
	case StateAuthFailed, StateDisconnected:
		log.Warn("whatsapp: session ended", zap.String("reason", ev.Reason))
		r.discard(s)
		r.publish(s.Snapshot())
	}
}

// discard removes s if it is still the registered session and tears its
// client down.
func (r *Registry) discard(s *Session) {
	r.mu.Lock()
	if cur, ok := r.sessions[s.tenantID]; ok && cur == s {
		delete(r.sessions, s.tenantID)
	}
	r.mu.Unlock()
	if err := s.client.Destroy(); err != nil {
		zap.L().Warn("whatsapp: destroy client failed", zap.String("tenant", s.tenantID), zap.Error(err))
	}
}

func (r *Registry) publish(snap Snapshot) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(TopicSessionState, StateChange{
		TenantID: snap.TenantID,
		State:    snap.State,
		Phone:    snap.Phone,
		Reason:   snap.Reason,
	})
}

// Disconnect logs the tenant out and destroys its client. Failures of either
// step are logged and the entry is removed regardless. It reports whether
// the tenant had a session.
func (r *Registry) Disconnect(ctx context.Context, tenantID string) bool {
	r.mu.Lock()
	s, ok := r.sessions[tenantID]
	if ok {
		delete(r.sessions, tenantID)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}

	if err := s.client.Logout(ctx); err != nil {
		zap.L().Warn("whatsapp: logout failed", zap.String("tenant", tenantID), zap.Error(err))
	}
	moved := s.close("disconnect requested")
	if err := s.client.Destroy(); err != nil {
		zap.L().Warn("whatsapp: destroy client failed", zap.String("tenant", tenantID), zap.Error(err))
	}
	if moved {
		r.publish(s.Snapshot())
	}
	zap.L().Info("whatsapp: session disconnected", zap.String("tenant", tenantID))
	return true
}

// Close destroys every session without logging out, keeping the stored
// credentials for the next start.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.close("shutdown")
		if err := s.client.Destroy(); err != nil {
			zap.L().Warn("whatsapp: destroy client failed", zap.String("tenant", s.tenantID), zap.Error(err))
		}
	}
	done := make(chan struct{})
	go func() {
		r.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
