package whatsapp

import (
	"context"
	"time"
)

// Connectivity is the live connection state reported by a client.
type Connectivity string

const (
	Connected    Connectivity = "CONNECTED"
	Disconnected Connectivity = "DISCONNECTED"
	Unpaired     Connectivity = "UNPAIRED"
)

// InboundMessage is a message received by a tenant's account.
type InboundMessage struct {
	From      string // digits@c.us
	Body      string
	Timestamp time.Time
	FromMe    bool
	Status    bool // status broadcast
}

// Event is a lifecycle or message notification emitted by a Client.
type Event struct {
	Kind    EventKind
	QR      string
	Phone   string
	Reason  string
	Inbound *InboundMessage
}

// Client is the automated messaging client owned by exactly one session.
type Client interface {
	// Connect starts the connection and returns once it is under way.
	// Progress is reported through Events.
	Connect(ctx context.Context) error
	Connectivity(ctx context.Context) (Connectivity, error)
	// SendText delivers a plain text message to an address of the form digits@c.us.
	SendText(ctx context.Context, to, text string) error
	Logout(ctx context.Context) error
	// Destroy tears the client down. Events is closed afterwards.
	Destroy() error
	Events() <-chan Event
	PhoneID() string
}

// ClientFactory builds a client bound to the tenant's persisted credentials.
type ClientFactory func(ctx context.Context, tenantID string) (Client, error)
