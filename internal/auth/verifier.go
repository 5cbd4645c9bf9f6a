// Package auth verifies bearer tokens and extracts the caller's role.
package auth

import (
	"context"
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
)

// Roles served by the dashboards.
const (
	RoleAdmin   = "admin"
	RoleOfficer = "officer"
	RoleDriver  = "driver"
)

var ErrUnauthorized = errors.New("unauthorized")

// Principal is the verified caller.
type Principal struct {
	Subject string
	Role    string
}

// Verifier validates tokens in one of three modes:
//
//	dev   token is "role" or "subject:role", no signature
//	hmac  HS256 JWT signed with HMACSecret
//	jwks  RS256 JWT verified against keys fetched from JWKSURL
type Verifier struct {
	Mode       string
	HMACSecret []byte
	JWKSURL    string
	RoleClaim  string

	http      *http.Client
	mu        sync.RWMutex
	keys      map[string]*rsa.PublicKey
	lastFetch time.Time
	cacheTTL  time.Duration
}

func NewVerifier(mode, hmacSecret, jwksURL, roleClaim string) *Verifier {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if mode == "" {
		mode = "dev"
	}
	if roleClaim == "" {
		roleClaim = "role"
	}
	return &Verifier{
		Mode:       mode,
		HMACSecret: []byte(hmacSecret),
		JWKSURL:    jwksURL,
		RoleClaim:  roleClaim,
		http:       &http.Client{Timeout: 5 * time.Second},
		cacheTTL:   10 * time.Minute,
	}
}

func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	if v.Mode == "dev" {
		sub, role, ok := strings.Cut(token, ":")
		if !ok {
			role, sub = sub, ""
		}
		if !validRole(role) {
			return Principal{}, fmt.Errorf("%w: unknown role %q", ErrUnauthorized, role)
		}
		return Principal{Subject: sub, Role: role}, nil
	}

	var keyFunc jwt.Keyfunc
	var methods []string
	switch v.Mode {
	case "hmac":
		methods = []string{jwt.SigningMethodHS256.Alg()}
		keyFunc = func(*jwt.Token) (any, error) { return v.HMACSecret, nil }
	case "jwks":
		methods = []string{jwt.SigningMethodRS256.Alg()}
		keyFunc = func(t *jwt.Token) (any, error) {
			kid, _ := t.Header["kid"].(string)
			return v.publicKey(ctx, kid)
		}
	default:
		return Principal{}, fmt.Errorf("unsupported auth mode %q", v.Mode)
	}

	claims := jwt.MapClaims{}
	if _, err := jwt.ParseWithClaims(token, claims, keyFunc, jwt.WithValidMethods(methods)); err != nil {
		return Principal{}, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	role, _ := claims[v.RoleClaim].(string)
	role = strings.ToLower(role)
	if !validRole(role) {
		return Principal{}, fmt.Errorf("%w: missing or unknown role claim", ErrUnauthorized)
	}
	sub, _ := claims.GetSubject()
	return Principal{Subject: sub, Role: role}, nil
}

func validRole(r string) bool {
	return r == RoleAdmin || r == RoleOfficer || r == RoleDriver
}

// publicKey returns the RSA key for kid, refetching the key set when the
// cache is stale or the kid is unknown.
func (v *Verifier) publicKey(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	v.mu.RLock()
	k, ok := v.keys[kid]
	stale := time.Since(v.lastFetch) > v.cacheTTL
	v.mu.RUnlock()
	if ok && !stale {
		return k, nil
	}
	if err := v.fetchJWKS(ctx); err != nil {
		return nil, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	if k, ok := v.keys[kid]; ok {
		return k, nil
	}
	return nil, fmt.Errorf("%w: kid %q not in key set", ErrUnauthorized, kid)
}

type jwks struct {
	Keys []struct {
		Kty string `json:"kty"`
		Kid string `json:"kid"`
		N   string `json:"n"`
		E   string `json:"e"`
	} `json:"keys"`
}

func (v *Verifier) fetchJWKS(ctx context.Context) error {
	if v.JWKSURL == "" {
		return errors.New("AUTH_JWKS_URL not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.JWKSURL, nil)
	if err != nil {
		return err
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch jwks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch jwks: HTTP %d", resp.StatusCode)
	}
	var set jwks
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return fmt.Errorf("decode jwks: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if !strings.EqualFold(k.Kty, "RSA") {
			continue
		}
		n, err := base64.RawURLEncoding.DecodeString(k.N)
		if err != nil {
			continue
		}
		e, err := base64.RawURLEncoding.DecodeString(k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = &rsa.PublicKey{N: new(big.Int).SetBytes(n), E: int(new(big.Int).SetBytes(e).Int64())}
	}
	v.mu.Lock()
	v.keys = keys
	v.lastFetch = time.Now()
	v.mu.Unlock()
	return nil
}
