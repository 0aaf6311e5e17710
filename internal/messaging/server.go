package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Bus is the embedded NATS server plus an internal client connection. The
// host engine publishes connect/disconnect events onto it and subscribes to
// the lifecycle events the core emits.
type Bus struct {
	ns   *server.Server
	conn *nats.Conn

	startupTimeout time.Duration
	host           string
	port           int
}

func NewBus(opts ...BusOpt) (*Bus, error) {
	b := &Bus{
		startupTimeout: 10 * time.Second,
		host:           "127.0.0.1",
	}

	for _, opt := range opts {
		opt(b)
	}

	ns, err := server.NewServer(&server.Options{
		Host:   b.host,
		Port:   b.port,
		NoSigs: true, // Let the application handle signals
	})
	if err != nil {
		return nil, fmt.Errorf("creating nats server: %w", err)
	}
	b.ns = ns

	return b, nil
}

func (b *Bus) Start(ctx context.Context) error {
	b.ns.Start()

	if !b.ns.ReadyForConnections(b.startupTimeout) {
		return fmt.Errorf("nats server not ready for connections")
	}

	conn, err := nats.Connect(b.clientURL())
	if err != nil {
		return fmt.Errorf("creating nats client connection: %w", err)
	}
	b.conn = conn

	slog.InfoContext(ctx, "message bus listening", "addr", b.ns.Addr())

	<-ctx.Done()
	if err := b.conn.Drain(); err != nil {
		slog.WarnContext(ctx, "draining nats connection", "error", err)
	}
	b.ns.Shutdown()
	b.ns.WaitForShutdown()

	return nil
}

// Subscribe registers a handler for a subject. Returns an unsubscribe
// function.
func (b *Bus) Subscribe(subject string, handler func(data []byte)) (func(), error) {
	if b.conn == nil {
		return nil, fmt.Errorf("bus not started")
	}
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn("unsubscribing", "subject", subject, "error", err)
		}
	}, nil
}

// Request sends a message and waits for a reply.
func (b *Bus) Request(subject string, data []byte, timeout time.Duration) ([]byte, error) {
	if b.conn == nil {
		return nil, fmt.Errorf("bus not started")
	}
	msg, err := b.conn.Request(subject, data, timeout)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Publish sends a message to the given subject.
func (b *Bus) Publish(subject string, data []byte) error {
	if b.conn == nil {
		return fmt.Errorf("bus not started")
	}
	return b.conn.Publish(subject, data)
}

func (b *Bus) clientURL() string {
	return fmt.Sprintf("nats://%s:%d", b.host, b.port)
}
