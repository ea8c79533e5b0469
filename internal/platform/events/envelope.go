package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/lauragobrightly/ship-ship/internal/domain"
)

// Envelope wraps a product change for the wire. Signature is the base64 HMAC of Payload, computed
// with the same shared secret that signs catalog webhooks.
type Envelope struct {
	ID        string          `json:"id"`
	Origin    string          `json:"origin"`
	Signature string          `json:"signature"`
	Payload   json.RawMessage `json:"payload"`
}

// Signer produces a payload signature.
type Signer interface {
	Sign(payload []byte) string
}

// Handler consumes a signed change. InvalidationService satisfies it.
type Handler interface {
	HandleNotification(ctx context.Context, payload []byte, signature string) (domain.ProductChange, error)
}

// Seal encodes change as a signed envelope. An empty change origin is replaced with origin.
func Seal(signer Signer, origin string, change domain.ProductChange) (Envelope, []byte, error) {
	if signer == nil {
		return Envelope{}, nil, errors.New("events: signer is required")
	}
	if strings.TrimSpace(change.Origin) == "" {
		change.Origin = origin
	}
	payload, err := json.Marshal(change)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("events: marshal change: %w", err)
	}
	env := Envelope{
		ID:        ulid.Make().String(),
		Origin:    change.Origin,
		Signature: signer.Sign(payload),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, nil, fmt.Errorf("events: marshal envelope: %w", err)
	}
	return env, data, nil
}

// dispatcher is shared by every transport. It never reports failure: undecodable, self-originated
// and rejected messages are all logged and acknowledged so they are not redelivered.
type dispatcher struct {
	origin  string
	handler Handler
	logger  *zap.Logger
}

func (d dispatcher) dispatch(ctx context.Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || len(env.Payload) == 0 {
		if err == nil {
			err = errors.New("empty payload")
		}
		d.logger.Warn("events.decode_failed", zap.Error(err), zap.Int("bytes", len(data)))
		return
	}
	if d.origin != "" && env.Origin == d.origin {
		d.logger.Debug("events.skipped_own", zap.String("id", env.ID))
		return
	}
	change, err := d.handler.HandleNotification(ctx, env.Payload, env.Signature)
	if err != nil {
		d.logger.Warn("events.rejected", zap.String("id", env.ID), zap.String("origin", env.Origin), zap.Error(err))
		return
	}
	d.logger.Info("events.applied",
		zap.String("id", env.ID),
		zap.String("origin", env.Origin),
		zap.String("productId", string(change.ProductID)),
		zap.Int("variants", len(change.VariantIDs)),
	)
}
