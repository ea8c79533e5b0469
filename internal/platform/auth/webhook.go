package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	// WebhookSignatureHeader carries the base64 HMAC-SHA256 of the raw body.
	WebhookSignatureHeader = "X-Shopify-Hmac-Sha256"
	webhookTopicHeader     = "X-Shopify-Topic"
	webhookShopHeader      = "X-Shopify-Shop-Domain"
	webhookIDHeader        = "X-Shopify-Webhook-Id"

	defaultMaxWebhookBody = 1 << 20
)

var (
	// ErrSignatureMissing indicates an empty signature.
	ErrSignatureMissing = errors.New("auth: signature missing")
	// ErrSignatureInvalid indicates a signature that does not match the payload.
	ErrSignatureInvalid = errors.New("auth: signature invalid")
	// ErrSecretMissing indicates no shared secret is configured.
	ErrSecretMissing = errors.New("auth: shared secret not configured")
)

// SignPayload returns the base64 HMAC-SHA256 of payload under secret.
func SignPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// VerifyPayload checks signature against payload in constant time.
func VerifyPayload(secret string, payload []byte, signature string) error {
	if secret == "" {
		return ErrSecretMissing
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return ErrSignatureMissing
	}
	given, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return ErrSignatureInvalid
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	if !hmac.Equal(given, mac.Sum(nil)) {
		return ErrSignatureInvalid
	}
	return nil
}

// WebhookMetadata describes a verified webhook delivery.
type WebhookMetadata struct {
	Topic      string
	ShopDomain string
	WebhookID  string
}

type webhookContextKey struct{}

// WebhookMetadataFromContext returns metadata stored by RequireSignature.
func WebhookMetadataFromContext(ctx context.Context) (WebhookMetadata, bool) {
	meta, ok := ctx.Value(webhookContextKey{}).(WebhookMetadata)
	return meta, ok
}

// WebhookVerifier authenticates webhook deliveries signed with a shared secret.
type WebhookVerifier struct {
	secret  string
	maxBody int64
	logger  Logger
	metrics MetricsRecorder
	now     func() time.Time
}

// WebhookOption customises the verifier.
type WebhookOption func(*WebhookVerifier)

// WithWebhookLogger sets the logger.
func WithWebhookLogger(logger Logger) WebhookOption {
	return func(v *WebhookVerifier) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithWebhookMetrics sets the metrics recorder.
func WithWebhookMetrics(metrics MetricsRecorder) WebhookOption {
	return func(v *WebhookVerifier) { v.metrics = metrics }
}

// WithWebhookMaxBody limits the number of body bytes read for verification.
func WithWebhookMaxBody(n int64) WebhookOption {
	return func(v *WebhookVerifier) {
		if n > 0 {
			v.maxBody = n
		}
	}
}

// NewWebhookVerifier builds a verifier for the given shared secret.
func NewWebhookVerifier(secret string, opts ...WebhookOption) *WebhookVerifier {
	v := &WebhookVerifier{
		secret:  secret,
		maxBody: defaultMaxWebhookBody,
		logger:  nopLogger{},
		now:     time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Verify checks a raw payload against a signature.
func (v *WebhookVerifier) Verify(payload []byte, signature string) error {
	return VerifyPayload(v.secret, payload, signature)
}

// Sign signs a payload with the verifier's secret.
func (v *WebhookVerifier) Sign(payload []byte) string {
	return SignPayload(v.secret, payload)
}

// RequireSignature rejects requests whose body does not match the signature header. The body is
// restored for downstream handlers.
func (v *WebhookVerifier) RequireSignature() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			if v.secret == "" {
				v.record(ctx, false, "secret_not_configured", start)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "webhook secret not configured")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, v.maxBody+1))
			_ = r.Body.Close()
			if err != nil {
				v.record(ctx, false, "body_unreadable", start)
				respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read body")
				return
			}
			if int64(len(body)) > v.maxBody {
				v.record(ctx, false, "body_too_large", start)
				respondAuthError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook body too large")
				return
			}

			switch err := v.Verify(body, r.Header.Get(WebhookSignatureHeader)); {
			case errors.Is(err, ErrSignatureMissing):
				v.record(ctx, false, "signature_missing", start)
				respondAuthError(w, http.StatusUnauthorized, "signature_missing", "signature header missing")
				return
			case err != nil:
				v.logger.Printf("auth: webhook signature rejected topic=%q shop=%q", r.Header.Get(webhookTopicHeader), r.Header.Get(webhookShopHeader))
				v.record(ctx, false, "signature_mismatch", start)
				respondAuthError(w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
				return
			}

			meta := WebhookMetadata{
				Topic:      strings.TrimSpace(r.Header.Get(webhookTopicHeader)),
				ShopDomain: strings.TrimSpace(r.Header.Get(webhookShopHeader)),
				WebhookID:  strings.TrimSpace(r.Header.Get(webhookIDHeader)),
			}
			v.record(ctx, true, "ok", start)

			r = r.WithContext(context.WithValue(ctx, webhookContextKey{}, meta))
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
			next.ServeHTTP(w, r)
		})
	}
}

func (v *WebhookVerifier) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "webhook", success, reason, v.now().Sub(start))
}
