package whatsapp

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	waTypes "go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

var ErrNotPaired = errors.New("whatsapp device is not paired")

// DeviceLocator remembers which whatsmeow device belongs to a tenant.
type DeviceLocator interface {
	DeviceJID(ctx context.Context, tenantID string) (string, error)
	SaveDeviceJID(ctx context.Context, tenantID, jid string) error
}

// NewStoreContainer wraps an existing database handle with whatsmeow's
// device store and runs its migrations.
func NewStoreContainer(ctx context.Context, db *sql.DB, dbType, logLevel string) (*sqlstore.Container, error) {
	driver := "sqlite3"
	switch strings.ToLower(strings.TrimSpace(dbType)) {
	case "postgres", "postgresql":
		driver = "postgres"
	default:
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
			zap.L().Warn("whatsapp: unable to enable sqlite foreign_keys pragma", zap.Error(err))
		}
	}
	container := sqlstore.NewWithDB(db, driver, NewLogger("whatsmeow.store", logLevel))
	if err := container.Upgrade(ctx); err != nil {
		return nil, fmt.Errorf("sqlstore upgrade failed: %w", err)
	}
	return container, nil
}

// NewMeowFactory returns a ClientFactory producing whatsmeow clients. A tenant
// with a stored device resumes it, any other tenant gets a fresh device that
// pairs through a QR challenge.
func NewMeowFactory(container *sqlstore.Container, devices DeviceLocator, logLevel string) ClientFactory {
	return func(ctx context.Context, tenantID string) (Client, error) {
		dev, err := loadDevice(ctx, container, devices, tenantID)
		if err != nil {
			return nil, err
		}
		cli := whatsmeow.NewClient(dev, NewLogger("whatsmeow."+tenantID, logLevel))
		// a dropped connection ends the session
		cli.EnableAutoReconnect = false
		m := &meowClient{
			tenantID: tenantID,
			cli:      cli,
			devices:  devices,
			events:   make(chan Event, 32),
			done:     make(chan struct{}),
		}
		cli.AddEventHandler(m.handle)
		return m, nil
	}
}

func loadDevice(ctx context.Context, container *sqlstore.Container, devices DeviceLocator, tenantID string) (*store.Device, error) {
	jidStr, err := devices.DeviceJID(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("lookup device of %s: %w", tenantID, err)
	}
	if jidStr != "" {
		jid, err := waTypes.ParseJID(jidStr)
		if err != nil {
			zap.L().Warn("whatsapp: invalid stored device jid", zap.String("tenant", tenantID), zap.String("jid", jidStr), zap.Error(err))
		} else {
			dev, err := container.GetDevice(ctx, jid)
			if err != nil {
				return nil, fmt.Errorf("load device %s: %w", jidStr, err)
			}
			if dev != nil {
				return dev, nil
			}
			zap.L().Info("whatsapp: stored device gone, pairing again", zap.String("tenant", tenantID), zap.String("jid", jidStr))
		}
	}
	return container.NewDevice(), nil
}

type meowClient struct {
	tenantID string
	cli      *whatsmeow.Client
	devices  DeviceLocator

	// mu is held for reading while emitting, Destroy takes it for writing
	// before closing events
	mu       sync.RWMutex
	events   chan Event
	done     chan struct{}
	closed   bool
	once     sync.Once
	authed   bool
	cancelQR context.CancelFunc
}

func (m *meowClient) Events() <-chan Event { return m.events }

func (m *meowClient) emit(ev Event) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *meowClient) markAuthed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := !m.authed
	m.authed = true
	return first
}

func (m *meowClient) Connect(ctx context.Context) error {
	if m.cli.Store.ID == nil {
		// the QR channel must exist before connecting
		qrCtx, cancel := context.WithCancel(context.Background())
		ch, err := m.cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("open qr channel: %w", err)
		}
		m.mu.Lock()
		m.cancelQR = cancel
		m.mu.Unlock()
		go m.watchQR(ch)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.cli.Connect()
}

func (m *meowClient) watchQR(ch <-chan whatsmeow.QRChannelItem) {
	for item := range ch {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			m.emit(Event{Kind: EventQR, QR: item.Code})
		case whatsmeow.QRChannelSuccess.Event:
		case whatsmeow.QRChannelTimeout.Event:
			m.emit(Event{Kind: EventAuthFailed, Reason: "qr challenge timed out"})
		default:
			reason := item.Event
			if item.Error != nil {
				reason = item.Error.Error()
			}
			m.emit(Event{Kind: EventAuthFailed, Reason: reason})
		}
	}
}

func (m *meowClient) handle(evt interface{}) {
	switch e := evt.(type) {
	case *events.PairSuccess:
		m.markAuthed()
		if err := m.devices.SaveDeviceJID(context.Background(), m.tenantID, e.ID.String()); err != nil {
			zap.L().Warn("whatsapp: failed to persist paired device", zap.String("tenant", m.tenantID), zap.Error(err))
		}
		m.emit(Event{Kind: EventAuthenticated})
	case *events.Connected:
		if m.markAuthed() {
			m.emit(Event{Kind: EventAuthenticated})
		}
		m.emit(Event{Kind: EventReady, Phone: m.PhoneID()})
	case *events.Disconnected:
		m.emit(Event{Kind: EventDisconnected, Reason: "connection lost"})
	case *events.LoggedOut:
		m.emit(Event{Kind: EventDisconnected, Reason: "logged out: " + e.Reason.String()})
	case *events.StreamReplaced:
		m.emit(Event{Kind: EventDisconnected, Reason: "stream replaced"})
	case *events.PairError:
		m.emit(Event{Kind: EventAuthFailed, Reason: fmt.Sprintf("pair error: %v", e.Error)})
	case *events.ConnectFailure:
		m.emit(Event{Kind: EventAuthFailed, Reason: "connect failure: " + e.Reason.String()})
	case *events.ClientOutdated:
		m.emit(Event{Kind: EventAuthFailed, Reason: "client outdated"})
	case *events.TemporaryBan:
		m.emit(Event{Kind: EventAuthFailed, Reason: e.String()})
	case *events.Message:
		m.emit(Event{Kind: EventMessage, Inbound: inboundFrom(e)})
	default:
		zap.L().Debug("whatsapp event", zap.String("type", fmt.Sprintf("%T", evt)), zap.String("tenant", m.tenantID))
	}
}

func inboundFrom(e *events.Message) *InboundMessage {
	body := e.Message.GetConversation()
	if body == "" {
		body = e.Message.GetExtendedTextMessage().GetText()
	}
	sender := e.Info.Sender.ToNonAD()
	return &InboundMessage{
		From:      sender.User + AddressSuffix,
		Body:      body,
		Timestamp: e.Info.Timestamp,
		FromMe:    e.Info.IsFromMe,
		Status:    e.Info.Chat == waTypes.StatusBroadcastJID,
	}
}

func (m *meowClient) Connectivity(ctx context.Context) (Connectivity, error) {
	if m.cli.Store.ID == nil {
		return Unpaired, nil
	}
	if m.cli.IsConnected() && m.cli.IsLoggedIn() {
		return Connected, nil
	}
	return Disconnected, nil
}

func parseAddress(to string) (waTypes.JID, error) {
	if strings.HasSuffix(to, AddressSuffix) {
		return waTypes.NewJID(strings.TrimSuffix(to, AddressSuffix), waTypes.DefaultUserServer), nil
	}
	return waTypes.ParseJID(to)
}

func (m *meowClient) SendText(ctx context.Context, to, text string) error {
	jid, err := parseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid address %q: %w", to, err)
	}
	_, err = m.cli.SendMessage(ctx, jid, &waE2E.Message{Conversation: proto.String(text)})
	return err
}

func (m *meowClient) Logout(ctx context.Context) error {
	if m.cli.Store.ID == nil {
		return ErrNotPaired
	}
	return m.cli.Logout(ctx)
}

func (m *meowClient) Destroy() error {
	m.once.Do(func() {
		close(m.done)
		m.mu.Lock()
		if m.cancelQR != nil {
			m.cancelQR()
		}
		m.closed = true
		close(m.events)
		m.mu.Unlock()
		m.cli.RemoveEventHandlers()
		m.cli.Disconnect()
	})
	return nil
}

func (m *meowClient) PhoneID() string {
	if id := m.cli.Store.ID; id != nil {
		return id.User
	}
	return ""
}
