package whatsapp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	EventBus "github.com/asaskevich/EventBus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

func TestCreateIsIdempotent(t *testing.T) {
	fc := newFakeClient()
	factory, calls := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s1, created, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.True(t, created)

	s2, created, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, 1, reg.Count())
}

func TestConcurrentCreateBuildsOneClient(t *testing.T) {
	fc := newFakeClient()
	factory, calls := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	var wg sync.WaitGroup
	sessions := make([]*Session, 8)
	for i := range sessions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s, _, err := reg.Create(context.Background(), "tenant-a")
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, *calls)
}

func TestFactoryErrorStoresNothing(t *testing.T) {
	reg := NewRegistry(func(ctx context.Context, tenantID string) (Client, error) {
		return nil, errors.New("store unavailable")
	})
	_, _, err := reg.Create(context.Background(), "tenant-a")
	require.Error(t, err)
	_, ok := reg.Get("tenant-a")
	assert.False(t, ok)
}

func TestAwaitReturnsQRChallenge(t *testing.T) {
	fc := newFakeClient()
	fc.onConnect = func(f *fakeClient) { f.emit(Event{Kind: EventQR, QR: "2@abc"}) }
	factory, _ := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	snap, err := s.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateQRPending, snap.State)
	assert.Equal(t, "2@abc", snap.QR)
}

func TestAwaitTimesOut(t *testing.T) {
	fc := newFakeClient()
	factory, _ := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Await(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestReadySessionForwardsInbound(t *testing.T) {
	fc := newFakeClient()
	fc.onConnect = func(f *fakeClient) {
		// messages before ready are not forwarded
		f.emit(Event{Kind: EventMessage, Inbound: &InboundMessage{From: "1@c.us", Body: "early"}})
		readyOnConnect(f)
		f.emit(Event{Kind: EventReady})
		f.emit(Event{Kind: EventMessage, Inbound: &InboundMessage{From: "5511999990000@c.us", Body: "hi", Timestamp: time.Unix(1700000000, 0)}})
		f.emit(Event{Kind: EventMessage, Inbound: &InboundMessage{From: "status@broadcast", Body: "story", Status: true}})
	}
	factory, _ := factoryOf(fc)
	sink := &recordingSink{}
	l, err := NewListener(sink, 4, time.Second)
	require.NoError(t, err)
	t.Cleanup(l.Release)

	bus := EventBus.New()
	var mu sync.Mutex
	var changes []StateChange
	require.NoError(t, bus.Subscribe(TopicSessionState, func(c StateChange) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	}))

	reg := NewRegistry(factory, WithListener(l), WithBus(bus))
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(sink.all()) == 1 }, waitFor, 5*time.Millisecond)
	p := sink.all()[0]
	assert.Equal(t, "tenant-a", p.UserId)
	assert.Equal(t, "5511999990000@c.us", p.Phone)
	assert.Equal(t, "hi", p.Message)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), p.Timestamp)

	snap := s.Snapshot()
	assert.Equal(t, StateReady, snap.State)
	assert.Equal(t, "5511000000000", snap.Phone)
	assert.NoError(t, s.CheckReady(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, changes, 1)
	assert.Equal(t, StateReady, changes[0].State)
}

func TestCheckReadyUsesLiveConnectivity(t *testing.T) {
	fc := newFakeClient()
	fc.onConnect = readyOnConnect
	factory, _ := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == StateReady }, waitFor, 5*time.Millisecond)
	require.NoError(t, s.CheckReady(context.Background()))

	fc.setConn(Disconnected)
	assert.ErrorIs(t, s.CheckReady(context.Background()), ErrNotReady)
}

func TestDisconnectRemovesEvenWhenTeardownFails(t *testing.T) {
	fc := newFakeClient()
	fc.onConnect = readyOnConnect
	fc.logoutErr = errors.New("logout failed")
	fc.destroyErr = errors.New("destroy failed")
	factory, _ := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == StateReady }, waitFor, 5*time.Millisecond)

	assert.True(t, reg.Disconnect(context.Background(), "tenant-a"))
	_, ok := reg.Get("tenant-a")
	assert.False(t, ok)
	assert.Equal(t, StateDisconnected, s.State())
	assert.ErrorIs(t, s.CheckReady(context.Background()), ErrNotReady)
	assert.Equal(t, 1, fc.loggedOut)
	assert.GreaterOrEqual(t, fc.destroyCount(), 1)

	assert.False(t, reg.Disconnect(context.Background(), "tenant-a"))
}

func TestAuthFailureEndsSession(t *testing.T) {
	fc := newFakeClient()
	fc.onConnect = func(f *fakeClient) {
		f.emit(Event{Kind: EventQR, QR: "2@abc"})
		f.emit(Event{Kind: EventAuthFailed, Reason: "qr challenge timed out"})
	}
	factory, _ := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		_, ok := reg.Get("tenant-a")
		return !ok
	}, waitFor, 5*time.Millisecond)

	_, err = s.Await(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.Equal(t, StateAuthFailed, s.State())
	assert.Equal(t, 1, fc.destroyCount())
}

func TestConnectErrorEndsSession(t *testing.T) {
	fc := newFakeClient()
	fc.connectErr = errors.New("dial failed")
	factory, _ := factoryOf(fc)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == StateAuthFailed }, waitFor, 5*time.Millisecond)
	_, ok := reg.Get("tenant-a")
	assert.False(t, ok)
}

func TestRemoteDisconnectEndsSession(t *testing.T) {
	first := newFakeClient()
	first.onConnect = func(f *fakeClient) {
		readyOnConnect(f)
		f.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})
	}
	second := newFakeClient()
	factory, calls := factoryOf(first, second)
	reg := NewRegistry(factory)
	t.Cleanup(func() { _ = reg.Close(context.Background()) })

	s, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return s.State() == StateDisconnected }, waitFor, 5*time.Millisecond)
	require.Eventually(t, func() bool { return reg.Count() == 0 }, waitFor, 5*time.Millisecond)

	s2, created, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotSame(t, s, s2)
	assert.Equal(t, 2, *calls)
}

func TestCloseDestroysWithoutLogout(t *testing.T) {
	fc := newFakeClient()
	factory, _ := factoryOf(fc)
	reg := NewRegistry(factory)

	_, _, err := reg.Create(context.Background(), "tenant-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), waitFor)
	defer cancel()
	require.NoError(t, reg.Close(ctx))
	assert.Equal(t, 0, reg.Count())
	assert.Equal(t, 0, fc.loggedOut)
	assert.Equal(t, 1, fc.destroyCount())
}
