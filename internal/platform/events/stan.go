package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	stan "github.com/nats-io/stan.go"
	"go.uber.org/zap"

	"github.com/lauragobrightly/ship-ship/internal/domain"
)

const (
	stanAckWait        = 10 * time.Second
	stanHandlerTimeout = 5 * time.Second
)

// STANConfig addresses a NATS Streaming cluster.
type STANConfig struct {
	ClusterID string
	ClientID  string
	URL       string
	Subject   string
	Durable   string
}

// Connect opens a streaming connection, generating a client id when none is configured.
func (c STANConfig) Connect() (stan.Conn, error) {
	clientID := c.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("ship-ship-%d", time.Now().UnixNano())
	}
	sc, err := stan.Connect(c.ClusterID, clientID, stan.NatsURL(c.URL))
	if err != nil {
		return nil, fmt.Errorf("stan connect: %w", err)
	}
	return sc, nil
}

// STANPublisher broadcasts product changes on a NATS Streaming subject.
type STANPublisher struct {
	conn    stan.Conn
	subject string
	signer  Signer
	origin  string
}

// NewSTANPublisher wraps an open connection.
func NewSTANPublisher(conn stan.Conn, subject string, signer Signer, origin string) (*STANPublisher, error) {
	if conn == nil {
		return nil, errors.New("stan publisher: connection is required")
	}
	if subject == "" {
		return nil, errors.New("stan publisher: subject is required")
	}
	if signer == nil {
		return nil, errors.New("stan publisher: signer is required")
	}
	return &STANPublisher{conn: conn, subject: subject, signer: signer, origin: origin}, nil
}

// Publish waits for the streaming server's ack.
func (p *STANPublisher) Publish(_ context.Context, change domain.ProductChange) error {
	_, data, err := Seal(p.signer, p.origin, change)
	if err != nil {
		return err
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("stan publish: %w", err)
	}
	return nil
}

// STANSubscriber applies product changes from a durable subscription. Every instance keeps its own
// durable so each one sees every change.
type STANSubscriber struct {
	cfg     STANConfig
	durable string
	dispatcher
}

// NewSTANSubscriber constructs a subscriber. Messages whose origin equals origin are skipped.
func NewSTANSubscriber(cfg STANConfig, handler Handler, origin string, logger *zap.Logger) (*STANSubscriber, error) {
	if cfg.Subject == "" {
		return nil, errors.New("stan subscriber: subject is required")
	}
	if handler == nil {
		return nil, errors.New("stan subscriber: handler is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &STANSubscriber{
		cfg:        cfg,
		durable:    instanceDurable(cfg.Durable, origin),
		dispatcher: dispatcher{origin: origin, handler: handler, logger: logger.Named("stan")},
	}, nil
}

// Run connects, subscribes and blocks until ctx is cancelled.
func (s *STANSubscriber) Run(ctx context.Context) error {
	sc, err := s.cfg.Connect()
	if err != nil {
		return err
	}
	defer sc.Close()

	sub, err := sc.Subscribe(s.cfg.Subject, func(m *stan.Msg) {
		s.handle(m.Data)
		if err := m.Ack(); err != nil {
			s.logger.Warn("events.ack_failed", zap.Error(err))
		}
	}, stan.DurableName(s.durable), stan.SetManualAckMode(), stan.AckWait(stanAckWait))
	if err != nil {
		return fmt.Errorf("stan subscribe: %w", err)
	}
	s.logger.Info("events.subscribed", zap.String("subject", s.cfg.Subject), zap.String("durable", s.durable))

	<-ctx.Done()
	// Close keeps the durable position; Unsubscribe would discard it.
	_ = sub.Close()
	return nil
}

func (s *STANSubscriber) handle(data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), stanHandlerTimeout)
	defer cancel()
	s.dispatch(ctx, data)
}

// instanceDurable derives a per-instance durable name from the configured prefix and the origin.
// Only alphanumerics, '-' and '_' are kept.
func instanceDurable(prefix, origin string) string {
	name := strings.Trim(strings.TrimSpace(prefix)+"-"+strings.TrimSpace(origin), "-")
	if name == "" {
		name = "ship-ship"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
