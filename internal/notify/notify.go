// Package notify announces committed synergy cache builds so other replicas
// sharing the store can reload their in-memory snapshot.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/dshills/cardsynergy-mcp/internal/storage"
)

// CacheRebuilt is the wire event published after a rebuild commits
type CacheRebuilt struct {
	BuildID     string    `json:"build_id"`
	Version     int64     `json:"version"`
	Rows        int       `json:"rows"`
	Fingerprint string    `json:"fingerprint"`
	BuiltAt     time.Time `json:"built_at"`
}

// EventFor builds the event describing a committed version
func EventFor(v storage.SynergyVersion) CacheRebuilt {
	return CacheRebuilt{
		BuildID:     v.BuildID,
		Version:     v.Version,
		Rows:        v.RowCount,
		Fingerprint: v.Fingerprint,
		BuiltAt:     v.BuiltAt,
	}
}

// Publisher announces cache rebuilds
type Publisher interface {
	PublishCacheRebuilt(ctx context.Context, event CacheRebuilt) error
	Close()
}

// Noop discards events. It is used when no broker is configured.
type Noop struct{}

func (Noop) PublishCacheRebuilt(context.Context, CacheRebuilt) error { return nil }
func (Noop) Close()                                                  {}

// Options tunes the NATS connection
type Options struct {
	ConnectTimeout time.Duration
	ReconnectWait  time.Duration
	MaxReconnects  int
	Logger         *slog.Logger
}

// NATSPublisher publishes and receives CacheRebuilt events on one subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to url. The connection retries in the background
// if the server is not reachable yet.
func NewNATSPublisher(url, subject string, options Options) (*NATSPublisher, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := nats.Connect(
		url,
		nats.Name("cardsynergy"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSPublisher{conn: conn, subject: subject, logger: logger}, nil
}

func (p *NATSPublisher) Close() {
	if p.conn != nil {
		p.conn.Close()
	}
}

func (p *NATSPublisher) PublishCacheRebuilt(_ context.Context, event CacheRebuilt) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode cache rebuilt event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Subscribe calls handler for every event until ctx is done, then drains
// the subscription. Malformed messages are logged and skipped.
func (p *NATSPublisher) Subscribe(ctx context.Context, handler func(context.Context, CacheRebuilt) error) error {
	sub, err := p.conn.Subscribe(p.subject, func(msg *nats.Msg) {
		if ctx.Err() != nil {
			return
		}
		event, err := DecodeEvent(msg.Data)
		if err != nil {
			p.logger.Warn("dropping malformed cache event", "error", err)
			return
		}
		if err := handler(ctx, event); err != nil {
			p.logger.Error("cache event handler failed", "build_id", event.BuildID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}
	if err := p.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	return nil
}

// DecodeEvent parses a CacheRebuilt payload
func DecodeEvent(data []byte) (CacheRebuilt, error) {
	var event CacheRebuilt
	if err := json.Unmarshal(data, &event); err != nil {
		return CacheRebuilt{}, fmt.Errorf("decode cache rebuilt event: %w", err)
	}
	if event.BuildID == "" || event.Version <= 0 {
		return CacheRebuilt{}, fmt.Errorf("cache rebuilt event missing build id or version")
	}
	return event, nil
}
