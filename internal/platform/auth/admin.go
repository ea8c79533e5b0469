package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"

	"github.com/lauragobrightly/ship-ship/internal/platform/requestctx"
)

// AdminValidator authenticates operators calling the admin routes with HS256 bearer tokens.
type AdminValidator struct {
	secret   []byte
	audience string
	logger   Logger
	metrics  MetricsRecorder
	now      func() time.Time
}

// AdminOption customises the validator.
type AdminOption func(*AdminValidator)

// WithAdminLogger sets the logger.
func WithAdminLogger(logger Logger) AdminOption {
	return func(v *AdminValidator) {
		if logger != nil {
			v.logger = logger
		}
	}
}

// WithAdminMetrics sets the metrics recorder.
func WithAdminMetrics(metrics MetricsRecorder) AdminOption {
	return func(v *AdminValidator) { v.metrics = metrics }
}

// WithAdminClock injects a clock, primarily for tests.
func WithAdminClock(now func() time.Time) AdminOption {
	return func(v *AdminValidator) {
		if now != nil {
			v.now = now
		}
	}
}

// NewAdminValidator builds a validator for tokens signed with secret and scoped to audience.
func NewAdminValidator(secret, audience string, opts ...AdminOption) *AdminValidator {
	v := &AdminValidator{
		secret:   []byte(secret),
		audience: strings.TrimSpace(audience),
		logger:   nopLogger{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// IssueToken signs an admin token for subject valid for ttl.
func (v *AdminValidator) IssueToken(subject string, ttl time.Duration) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrSecretMissing
	}
	now := v.now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Audience:  jwt.ClaimStrings{v.audience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// Authenticate parses and validates a raw token, returning its subject.
func (v *AdminValidator) Authenticate(raw string) (string, error) {
	if len(v.secret) == 0 {
		return "", ErrSecretMissing
	}
	claims := &jwt.RegisteredClaims{}
	// Time-based claims are checked against the injected clock below.
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}); err != nil {
		return "", err
	}
	now := v.now()
	if claims.ExpiresAt == nil || !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("auth: token expired")
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return "", errors.New("auth: audience mismatch")
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return "", errors.New("auth: subject missing")
	}
	return claims.Subject, nil
}

// RequireAdmin enforces a valid admin bearer token and records the subject on the context.
func (v *AdminValidator) RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := v.now()
			ctx := r.Context()

			if len(v.secret) == 0 {
				v.record(ctx, false, "secret_not_configured", start)
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "admin authentication not configured")
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				v.record(ctx, false, "token_missing", start)
				respondAuthError(w, http.StatusUnauthorized, "unauthenticated", "bearer token missing")
				return
			}

			subject, err := v.Authenticate(token)
			if err != nil {
				v.logger.Printf("auth: admin token rejected: %v", err)
				v.record(ctx, false, "token_invalid", start)
				respondAuthError(w, http.StatusUnauthorized, "invalid_token", "admin token verification failed")
				return
			}

			v.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(requestctx.WithActor(ctx, subject)))
		})
	}
}

func (v *AdminValidator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if v.metrics == nil {
		return
	}
	v.metrics.RecordVerification(ctx, "admin", success, reason, v.now().Sub(start))
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
