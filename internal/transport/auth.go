package transport

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/MikeGii/vomm-sub003/internal/config"
	"github.com/MikeGii/vomm-sub003/model"
)

// jwk is the subset of RFC 7517 fields needed to rebuild RSA and EC
// public keys.
type jwk struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Crv string `json:"crv"`
	X   string `json:"x"`
	Y   string `json:"y"`
}

// JWKSClient keeps a refreshing cache of the identity provider's signing
// keys. Lookups serve from the cache until the TTL lapses; a failed refresh
// falls back to whatever keys were cached last.
type JWKSClient struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client
	logger     *zap.Logger

	mu        sync.RWMutex
	cache     map[string]crypto.PublicKey
	fetchedAt time.Time
}

// NewJWKSClient creates a JWKS client for the given endpoint. Keys are
// cached for ttl; a nil logger disables logging.
func NewJWKSClient(url string, ttl time.Duration, logger *zap.Logger) *JWKSClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JWKSClient{
		url:        url,
		ttl:        ttl,
		minRefresh: 5 * time.Minute,
		client:     &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
		cache:      make(map[string]crypto.PublicKey),
	}
}

// GetKey returns the public key for the given key ID, refreshing the cache
// when it is stale or the key is unknown.
func (c *JWKSClient) GetKey(kid string) (crypto.PublicKey, error) {
	if key, ok := c.cached(kid); ok {
		return key, nil
	}

	if err := c.refresh(); err != nil {
		// Degraded mode: a stale key beats rejecting every request
		// while the provider is down.
		c.mu.RLock()
		key, ok := c.cache[kid]
		c.mu.RUnlock()
		if ok {
			c.logger.Warn("jwks refresh failed, serving cached key", zap.Error(err))
			return key, nil
		}
		return nil, fmt.Errorf("jwks fetch: %w", err)
	}

	c.mu.RLock()
	key, ok := c.cache[kid]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown signing key %q", kid)
	}
	return key, nil
}

func (c *JWKSClient) cached(kid string) (crypto.PublicKey, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if time.Since(c.fetchedAt) > c.ttl {
		return nil, false
	}
	key, ok := c.cache[kid]
	return key, ok
}

func (c *JWKSClient) refresh() error {
	c.mu.RLock()
	recent := time.Since(c.fetchedAt) < c.minRefresh && len(c.cache) > 0
	c.mu.RUnlock()
	if recent {
		return nil
	}

	fresh, err := c.fetchKeys()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.cache = fresh
	c.fetchedAt = time.Now()
	c.mu.Unlock()
	return nil
}

func (c *JWKSClient) fetchKeys() (map[string]crypto.PublicKey, error) {
	resp, err := c.client.Get(c.url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks endpoint returned %d", resp.StatusCode)
	}

	var doc struct {
		Keys []jwk `json:"keys"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(nil, resp.Body, 1<<20)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks document: %w", err)
	}

	keys := make(map[string]crypto.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kid == "" {
			continue
		}
		pub, err := k.publicKey()
		if err != nil {
			c.logger.Warn("skipping unusable jwk", zap.String("kid", k.Kid), zap.Error(err))
			continue
		}
		if pub != nil {
			keys[k.Kid] = pub
		}
	}
	return keys, nil
}

// publicKey rebuilds the crypto.PublicKey a JWK describes. Unsupported key
// types return nil without error so the rest of the set still loads.
func (k jwk) publicKey() (crypto.PublicKey, error) {
	switch k.Kty {
	case "RSA":
		n, err := b64Int(k.N)
		if err != nil {
			return nil, fmt.Errorf("modulus: %w", err)
		}
		e, err := b64Int(k.E)
		if err != nil {
			return nil, fmt.Errorf("exponent: %w", err)
		}
		return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
	case "EC":
		var curve elliptic.Curve
		switch k.Crv {
		case "P-256":
			curve = elliptic.P256()
		case "P-384":
			curve = elliptic.P384()
		case "P-521":
			curve = elliptic.P521()
		default:
			return nil, fmt.Errorf("unsupported curve %q", k.Crv)
		}
		x, err := b64Int(k.X)
		if err != nil {
			return nil, fmt.Errorf("x coordinate: %w", err)
		}
		y, err := b64Int(k.Y)
		if err != nil {
			return nil, fmt.Errorf("y coordinate: %w", err)
		}
		return &ecdsa.PublicKey{Curve: curve, X: x, Y: y}, nil
	default:
		return nil, nil
	}
}

func b64Int(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty field")
	}
	b, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

// keyfunc resolves the verification key for a parsed token header.
func (c *JWKSClient) keyfunc(token *jwt.Token) (any, error) {
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return nil, errors.New("token header carries no kid")
	}
	return c.GetKey(kid)
}

// JWTAuthenticator returns middleware that verifies bearer tokens against
// the identity provider's keys and stores the verified claims on the
// request context. Expiry is validated with a 30 second leeway.
func JWTAuthenticator(cfg config.IdentityConfig, jwks *JWKSClient) func(http.Handler) http.Handler {
	parseOpts := []jwt.ParserOption{
		jwt.WithValidMethods(cfg.Algorithms),
		jwt.WithIssuer(cfg.Issuer),
		jwt.WithAudience(cfg.Audience),
		jwt.WithLeeway(30 * time.Second),
		jwt.WithExpirationRequired(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(err.Error()))
				return
			}

			token, err := jwt.Parse(raw, jwks.keyfunc, parseOpts...)
			if err != nil {
				WriteError(w, model.NewUnauthorizedError(rejectionReason(err)))
				return
			}
			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || !token.Valid {
				WriteError(w, model.NewUnauthorizedError("Invalid token"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithClaims(r.Context(), map[string]any(claims))))
		})
	}
}

func bearerToken(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	switch {
	case auth == "":
		return "", errors.New("Missing authorization header")
	case !strings.HasPrefix(auth, "Bearer "):
		return "", errors.New("Invalid authorization header format")
	}
	return strings.TrimPrefix(auth, "Bearer "), nil
}

// rejectionReason maps a verification failure to the client-facing message.
// The detailed error stays server side.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "Token expired"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return "Invalid token issuer"
	case errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "Invalid token audience"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "Invalid token signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "Malformed token"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "Unknown signing key"
	default:
		return "Invalid token"
	}
}
