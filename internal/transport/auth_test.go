package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MikeGii/vomm-sub003/internal/config"
)

// jwksFixture bundles a signing key pair with an httptest JWKS endpoint
// serving its public half.
type jwksFixture struct {
	rsaKey *rsa.PrivateKey
	ecKey  *ecdsa.PrivateKey
	server *httptest.Server
	calls  int
}

func newJWKSFixture(t *testing.T) *jwksFixture {
	t.Helper()
	f := &jwksFixture{}

	var err error
	if f.rsaKey, err = rsa.GenerateKey(rand.Reader, 2048); err != nil {
		t.Fatalf("rsa.GenerateKey: %v", err)
	}
	if f.ecKey, err = ecdsa.GenerateKey(elliptic.P256(), rand.Reader); err != nil {
		t.Fatalf("ecdsa.GenerateKey: %v", err)
	}

	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls++
		b64 := base64.RawURLEncoding.EncodeToString
		json.NewEncoder(w).Encode(map[string]any{"keys": []map[string]any{
			{
				"kid": "rsa-key", "kty": "RSA", "use": "sig",
				"n": b64(f.rsaKey.PublicKey.N.Bytes()),
				"e": b64(big.NewInt(int64(f.rsaKey.PublicKey.E)).Bytes()),
			},
			{
				"kid": "ec-key", "kty": "EC", "crv": "P-256", "use": "sig",
				"x": b64(f.ecKey.PublicKey.X.Bytes()),
				"y": b64(f.ecKey.PublicKey.Y.Bytes()),
			},
			// Unsupported key type, must be skipped without failing the set.
			{"kid": "okp-key", "kty": "OKP", "crv": "Ed25519", "x": "AAAA"},
		}})
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *jwksFixture) client() *JWKSClient {
	return NewJWKSClient(f.server.URL, time.Hour, nil)
}

// sign produces a token signed by the fixture's RSA key under kid unless a
// different key or kid is forced.
func (f *jwksFixture) sign(t *testing.T, claims jwt.MapClaims, mutate ...func(*jwt.Token)) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "rsa-key"
	for _, m := range mutate {
		m(token)
	}
	var key any = f.rsaKey
	if token.Method == jwt.SigningMethodES256 {
		key = f.ecKey
	}
	s, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}
	return s
}

func identityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "https://auth.example.com",
		Audience:   "vomm-api",
		Algorithms: []string{"RS256", "ES256"},
		ClaimPaths: map[string]string{
			"player_id": "sub",
			"email":     "email",
			"roles":     "roles",
		},
	}
}

func playerClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"sub":   "player-1",
		"email": "player@example.com",
		"roles": []string{"player"},
		"iss":   "https://auth.example.com",
		"aud":   "vomm-api",
		"exp":   jwt.NewNumericDate(time.Now().Add(time.Hour)),
		"iat":   jwt.NewNumericDate(time.Now()),
	}
}

func authStatus(t *testing.T, cfg config.IdentityConfig, jwks *JWKSClient, authHeader string) int {
	t.Helper()
	handler := JWTAuthenticator(cfg, jwks)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w.Code
}

func TestJWKSClient_keyTypes(t *testing.T) {
	f := newJWKSFixture(t)
	client := f.client()

	key, err := client.GetKey("rsa-key")
	if err != nil {
		t.Fatalf("GetKey(rsa-key): %v", err)
	}
	rsaPub, ok := key.(*rsa.PublicKey)
	if !ok {
		t.Fatalf("rsa-key type = %T, want *rsa.PublicKey", key)
	}
	if rsaPub.N.Cmp(f.rsaKey.PublicKey.N) != 0 {
		t.Error("RSA modulus mismatch")
	}

	key, err = client.GetKey("ec-key")
	if err != nil {
		t.Fatalf("GetKey(ec-key): %v", err)
	}
	ecPub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		t.Fatalf("ec-key type = %T, want *ecdsa.PublicKey", key)
	}
	if ecPub.X.Cmp(f.ecKey.PublicKey.X) != 0 {
		t.Error("EC X coordinate mismatch")
	}

	if _, err := client.GetKey("okp-key"); err == nil {
		t.Error("unsupported key type should not be served")
	}
}

func TestJWKSClient_unknownKid(t *testing.T) {
	f := newJWKSFixture(t)
	if _, err := f.client().GetKey("no-such-key"); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestJWKSClient_cachesWithinTTL(t *testing.T) {
	f := newJWKSFixture(t)
	client := f.client()
	client.minRefresh = 0

	if _, err := client.GetKey("rsa-key"); err != nil {
		t.Fatalf("first GetKey: %v", err)
	}
	if _, err := client.GetKey("ec-key"); err != nil {
		t.Fatalf("second GetKey: %v", err)
	}
	if f.calls != 1 {
		t.Errorf("jwks fetched %d times, want 1", f.calls)
	}
}

func TestJWKSClient_degradedMode(t *testing.T) {
	f := newJWKSFixture(t)
	client := f.client()
	if _, err := client.GetKey("rsa-key"); err != nil {
		t.Fatalf("warm-up GetKey: %v", err)
	}

	// Provider goes away; the cached key must still be served once the
	// TTL forces a refresh attempt.
	f.server.Close()
	client.ttl = 0
	client.minRefresh = 0

	if _, err := client.GetKey("rsa-key"); err != nil {
		t.Errorf("GetKey after provider outage: %v", err)
	}
	if _, err := client.GetKey("never-cached"); err == nil {
		t.Error("uncached key must fail while the provider is down")
	}
}

func TestJWTAuthenticator_validToken(t *testing.T) {
	f := newJWKSFixture(t)

	handler := JWTAuthenticator(identityCfg(), f.client())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := ClaimsFrom(r.Context())
		if claims == nil {
			t.Fatal("claims missing from context")
		}
		if sub, _ := claims["sub"].(string); sub != "player-1" {
			t.Errorf("sub = %q, want player-1", sub)
		}
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+f.sign(t, playerClaims()))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestJWTAuthenticator_ES256(t *testing.T) {
	f := newJWKSFixture(t)
	token := f.sign(t, playerClaims(), func(tok *jwt.Token) {
		tok.Method = jwt.SigningMethodES256
		tok.Header["alg"] = "ES256"
		tok.Header["kid"] = "ec-key"
	})
	if code := authStatus(t, identityCfg(), f.client(), "Bearer "+token); code != http.StatusOK {
		t.Errorf("status = %d, want 200 for ES256 token", code)
	}
}

func TestJWTAuthenticator_rejections(t *testing.T) {
	f := newJWKSFixture(t)

	tests := []struct {
		name   string
		cfg    func(*config.IdentityConfig)
		header func(t *testing.T) string
	}{
		{
			name:   "missing header",
			header: func(*testing.T) string { return "" },
		},
		{
			name:   "not a bearer scheme",
			header: func(*testing.T) string { return "Basic dXNlcjpwYXNz" },
		},
		{
			name: "expired",
			header: func(t *testing.T) string {
				c := playerClaims()
				c["exp"] = jwt.NewNumericDate(time.Now().Add(-time.Hour))
				return "Bearer " + f.sign(t, c)
			},
		},
		{
			name: "wrong issuer",
			header: func(t *testing.T) string {
				c := playerClaims()
				c["iss"] = "https://evil.example.com"
				return "Bearer " + f.sign(t, c)
			},
		},
		{
			name: "wrong audience",
			header: func(t *testing.T) string {
				c := playerClaims()
				c["aud"] = "other-api"
				return "Bearer " + f.sign(t, c)
			},
		},
		{
			name: "no exp claim",
			header: func(t *testing.T) string {
				c := playerClaims()
				delete(c, "exp")
				return "Bearer " + f.sign(t, c)
			},
		},
		{
			name: "unknown kid",
			header: func(t *testing.T) string {
				return "Bearer " + f.sign(t, playerClaims(), func(tok *jwt.Token) {
					tok.Header["kid"] = "rotated-away"
				})
			},
		},
		{
			name: "disallowed algorithm",
			cfg:  func(c *config.IdentityConfig) { c.Algorithms = []string{"ES256"} },
			header: func(t *testing.T) string {
				return "Bearer " + f.sign(t, playerClaims())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := identityCfg()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			client := f.client()
			client.minRefresh = 0
			if code := authStatus(t, cfg, client, tt.header(t)); code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", code)
			}
		})
	}
}

func TestJWTAuthenticator_expiryLeeway(t *testing.T) {
	f := newJWKSFixture(t)

	// Expired 15 seconds ago, inside the 30 second leeway.
	c := playerClaims()
	c["exp"] = jwt.NewNumericDate(time.Now().Add(-15 * time.Second))

	if code := authStatus(t, identityCfg(), f.client(), "Bearer "+f.sign(t, c)); code != http.StatusOK {
		t.Errorf("status = %d, want 200 inside leeway", code)
	}
}

func TestExtractClaim_paths(t *testing.T) {
	claims := map[string]any{
		"sub": "player-1",
		"realm_access": map[string]any{
			"roles": []any{"admin", "viewer"},
		},
	}

	if v := extractClaimString(claims, "sub"); v != "player-1" {
		t.Errorf("sub = %q, want player-1", v)
	}
	if roles := extractClaimStringSlice(claims, "realm_access.roles"); len(roles) != 2 || roles[0] != "admin" {
		t.Errorf("realm_access.roles = %v, want [admin viewer]", roles)
	}
	if v := extractClaimString(claims, "missing.path"); v != "" {
		t.Errorf("missing.path = %q, want empty", v)
	}
	if v := extractClaimString(nil, "sub"); v != "" {
		t.Errorf("nil claims = %q, want empty", v)
	}
}
