package social

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/dyjung/logindemo/auth/internal/config"
	"github.com/dyjung/logindemo/auth/internal/entity"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported social provider")
	ErrInvalidToken        = errors.New("social token rejected by provider")
)

// Identity is what a provider vouches for: a stable subject and, when shared,
// the user's email.
type Identity struct {
	Subject string
	Email   string
}

type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Registry dispatches a social token to the verifier of its method.
type Registry struct {
	verifiers map[entity.Method]Verifier
}

func NewRegistry(verifiers map[entity.Method]Verifier) *Registry {
	return &Registry{verifiers: verifiers}
}

// NewRegistryFromConfig wires every provider the config enables. Apple is
// skipped without a client id.
func NewRegistryFromConfig(cfg config.SocialConfig) *Registry {
	client := &http.Client{Timeout: cfg.Timeout}

	verifiers := map[entity.Method]Verifier{
		entity.MethodKakao:  NewUserInfoVerifier(client, cfg.KakaoUserInfoURL, parseKakao),
		entity.MethodNaver:  NewUserInfoVerifier(client, cfg.NaverUserInfoURL, parseNaver),
		entity.MethodGoogle: NewUserInfoVerifier(client, cfg.GoogleUserInfoURL, parseGoogle),
	}
	if cfg.AppleClientID != "" {
		verifiers[entity.MethodApple] = NewAppleVerifier(client, cfg.AppleJWKSURL, cfg.AppleClientID)
	}

	return NewRegistry(verifiers)
}

func (r *Registry) Verify(ctx context.Context, method entity.Method, token string) (Identity, error) {
	v, ok := r.verifiers[method]
	if !ok || !method.IsSocial() {
		return Identity{}, fmt.Errorf("%w: %s", ErrUnsupportedProvider, method)
	}

	id, err := v.Verify(ctx, token)
	if err != nil {
		return Identity{}, err
	}
	if id.Subject == "" {
		return Identity{}, fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return id, nil
}
