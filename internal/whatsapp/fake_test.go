package whatsapp

import (
	"context"
	"sync"
	"time"

	"github.com/talkincode/toughwa/internal/domain"
)

type fakeClient struct {
	mu         sync.Mutex
	events     chan Event
	closed     bool
	conn       Connectivity
	phone      string
	connectErr error
	logoutErr  error
	destroyErr error
	sent       []string
	loggedOut  int
	destroyed  int
	onConnect  func(f *fakeClient)
}

func newFakeClient() *fakeClient {
	return &fakeClient{events: make(chan Event, 64), conn: Connected, phone: "5511000000000"}
}

func (f *fakeClient) emit(ev Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.events <- ev
}

func (f *fakeClient) setConn(c Connectivity) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conn = c
}

func (f *fakeClient) Connect(ctx context.Context) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	if f.onConnect != nil {
		f.onConnect(f)
	}
	return nil
}

func (f *fakeClient) Connectivity(ctx context.Context) (Connectivity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn, nil
}

func (f *fakeClient) SendText(ctx context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, to)
	return nil
}

func (f *fakeClient) Logout(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loggedOut++
	return f.logoutErr
}

func (f *fakeClient) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed++
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return f.destroyErr
}

func (f *fakeClient) Events() <-chan Event { return f.events }

func (f *fakeClient) PhoneID() string { return f.phone }

func (f *fakeClient) destroyCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.destroyed
}

type recordingSink struct {
	mu       sync.Mutex
	payloads []domain.InboundPayload
}

func (s *recordingSink) ForwardInbound(ctx context.Context, p domain.InboundPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads = append(s.payloads, p)
	return nil
}

func (s *recordingSink) all() []domain.InboundPayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.InboundPayload(nil), s.payloads...)
}

func readyOnConnect(f *fakeClient) {
	f.emit(Event{Kind: EventAuthenticated})
	f.emit(Event{Kind: EventReady, Phone: f.phone})
}

func factoryOf(clients ...*fakeClient) (ClientFactory, *int) {
	var mu sync.Mutex
	calls := 0
	return func(ctx context.Context, tenantID string) (Client, error) {
		mu.Lock()
		defer mu.Unlock()
		c := clients[calls%len(clients)]
		calls++
		// widen the window for concurrent creates
		time.Sleep(5 * time.Millisecond)
		return c, nil
	}, &calls
}
