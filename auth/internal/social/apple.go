package social

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	appleIssuer  = "https://appleid.apple.com"
	jwksCacheTTL = time.Hour

	// A kid missing from a fresh key set triggers at most one refetch per
	// interval.
	jwksRefetchInterval = time.Minute
)

// AppleVerifier checks Sign in with Apple identity tokens against Apple's
// published signing keys.
type AppleVerifier struct {
	client   *http.Client
	jwksURL  string
	clientID string
	now      func() time.Time

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
}

func NewAppleVerifier(client *http.Client, jwksURL, clientID string) *AppleVerifier {
	return &AppleVerifier{client: client, jwksURL: jwksURL, clientID: clientID, now: time.Now}
}

type appleClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (v *AppleVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	var claims appleClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid")
		}
		return v.key(ctx, kid)
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(appleIssuer),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	if err != nil {
		var fetchErr *jwksFetchError
		if errors.As(err, &fetchErr) {
			return Identity{}, fetchErr
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	return Identity{Subject: claims.Subject, Email: claims.Email}, nil
}

func (v *AppleVerifier) key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	age := v.now().Sub(v.fetchedAt)
	k, ok := v.keys[kid]
	switch {
	case ok && age < jwksCacheTTL:
		return k, nil
	case !ok && v.keys != nil && age < jwksRefetchInterval:
		return nil, fmt.Errorf("unknown kid %q", kid)
	}

	keys, err := v.fetchKeys(ctx)
	if err != nil {
		return nil, &jwksFetchError{err: err}
	}
	v.keys = keys
	v.fetchedAt = v.now()

	k, ok = keys[kid]
	if !ok {
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
	return k, nil
}

type jwksFetchError struct{ err error }

func (e *jwksFetchError) Error() string { return "fetch apple jwks: " + e.err.Error() }
func (e *jwksFetchError) Unwrap() error { return e.err }

func (v *AppleVerifier) fetchKeys(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %s", resp.Status)
	}

	var set struct {
		Keys []struct {
			Kty string `json:"kty"`
			Kid string `json:"kid"`
			N   string `json:"n"`
			E   string `json:"e"`
		} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, err
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Kty != "RSA" {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			return nil, fmt.Errorf("decode modulus of %s: %w", k.Kid, err)
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			return nil, fmt.Errorf("decode exponent of %s: %w", k.Kid, err)
		}
		keys[k.Kid] = &rsa.PublicKey{
			N: new(big.Int).SetBytes(n),
			E: int(new(big.Int).SetBytes(e).Int64()),
		}
	}
	return keys, nil
}
