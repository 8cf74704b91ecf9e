package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/GolangDeveloperAlmir/order-billing/internal/platform/log"
	"github.com/GolangDeveloperAlmir/order-billing/pkg/respond"
	"github.com/coreos/go-oidc/v3/oidc"
)

type OIDCConfig struct {
	Issuer        string
	Audiences     []string
	RequiredScope string
	Logger        *log.Logger
}

// verifier is satisfied by *oidc.IDTokenVerifier.
type verifier interface {
	Verify(ctx context.Context, raw string) (*oidc.IDToken, error)
}

type OIDC struct {
	verifiers     []verifier
	requiredScope string
	log           *log.Logger
}

func NewOIDC(ctx context.Context, cfg OIDCConfig) (*OIDC, error) {
	if cfg.Issuer == "" || len(cfg.Audiences) == 0 {
		return nil, errors.New("missing issuer/audience")
	}
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider %s: %w", cfg.Issuer, err)
	}
	var verifiers []verifier
	for _, aud := range cfg.Audiences {
		verifiers = append(verifiers, provider.Verifier(&oidc.Config{ClientID: aud}))
	}
	if cfg.Logger == nil {
		cfg.Logger = log.NewNop()
	}

	return &OIDC{verifiers: verifiers, requiredScope: cfg.RequiredScope, log: cfg.Logger}, nil
}

type subjectKey struct{}

// Subject returns the verified token subject, or "" for unauthenticated requests.
func Subject(ctx context.Context) string {
	s, _ := ctx.Value(subjectKey{}).(string)
	return s
}

func (m *OIDC) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := bearer(r.Header.Get("Authorization"))
		if raw == "" {
			respond.Error(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		var claims map[string]any
		var subject string
		for _, v := range m.verifiers {
			idt, err := v.Verify(r.Context(), raw)
			if err != nil {
				continue
			}
			if err := idt.Claims(&claims); err != nil {
				m.log.Warn("failed to parse token claims", log.Err(err))
				claims = nil
				break
			}
			subject = idt.Subject
			break
		}
		if claims == nil {
			respond.Error(w, http.StatusUnauthorized, "unauthorized", "invalid token")
			return
		}
		if m.requiredScope != "" && !hasScope(claims, m.requiredScope) {
			m.log.Info("token lacks required scope", log.Str("sub", subject), log.Str("scope", m.requiredScope))
			respond.Error(w, http.StatusForbidden, "forbidden", "insufficient scope")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), subjectKey{}, subject)))
	})
}

func bearer(h string) string {
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}

	return strings.TrimSpace(h[7:])
}

func hasScope(claims map[string]any, want string) bool {
	if v, ok := claims["scope"].(string); ok {
		for _, s := range strings.Fields(v) {
			if s == want {
				return true
			}
		}
	}
	if arr, ok := claims["scp"].([]any); ok {
		for _, s := range arr {
			if str, ok := s.(string); ok && str == want {
				return true
			}
		}
	}

	return false
}
