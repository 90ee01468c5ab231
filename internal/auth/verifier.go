package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/CleanExpo/zenith-integration-hub/internal/config"
	"github.com/CleanExpo/zenith-integration-hub/internal/models"
)

// ErrNoCredential means the request carried nothing this verifier could
// check; the caller may try another verifier.
var ErrNoCredential = errors.New("no credential presented")

// ErrInvalidCredential means a credential was presented and failed.
var ErrInvalidCredential = errors.New("invalid credential")

// Principal is an authenticated caller.
type Principal struct {
	ID     string
	Method string
	Scopes []string
}

// Credentials are the raw values the gateway extracts from a request.
type Credentials struct {
	APIKey      string
	BearerToken string
}

// Verifier checks one credential kind.
type Verifier interface {
	// Method names the auth method this verifier implements, matching the
	// values a route's auth policy lists.
	Method() string
	Verify(ctx context.Context, creds Credentials) (*Principal, error)
}

// HasScopes reports whether the principal holds every required scope.
func (p *Principal) HasScopes(required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(p.Scopes))
	for _, s := range p.Scopes {
		held[s] = struct{}{}
	}
	for _, want := range required {
		if _, ok := held[want]; !ok {
			return false
		}
	}
	return true
}

// APIKeyVerifier resolves static keys configured for the gateway.
type APIKeyVerifier struct {
	keys map[string]config.APIKeyCredential
}

func NewAPIKeyVerifier(creds []config.APIKeyCredential) *APIKeyVerifier {
	keys := make(map[string]config.APIKeyCredential, len(creds))
	for _, c := range creds {
		keys[c.Key] = c
	}
	return &APIKeyVerifier{keys: keys}
}

func (v *APIKeyVerifier) Method() string { return models.AuthMethodAPIKey }

func (v *APIKeyVerifier) Verify(_ context.Context, creds Credentials) (*Principal, error) {
	if creds.APIKey == "" {
		return nil, ErrNoCredential
	}
	cred, ok := v.keys[creds.APIKey]
	if !ok {
		return nil, ErrInvalidCredential
	}
	return &Principal{ID: cred.Principal, Method: models.AuthMethodAPIKey, Scopes: cred.Scopes}, nil
}

// TokenClaims is the JWT claim set the gateway understands.
type TokenClaims struct {
	Scopes []string `json:"scopes,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier validates HS256 bearer tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Method() string { return models.AuthMethodBearer }

func (v *JWTVerifier) Verify(_ context.Context, creds Credentials) (*Principal, error) {
	if creds.BearerToken == "" {
		return nil, ErrNoCredential
	}
	if len(v.secret) == 0 {
		return nil, ErrInvalidCredential
	}

	token, err := jwt.ParseWithClaims(creds.BearerToken, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*TokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidCredential
	}
	id := claims.Subject
	if id == "" {
		id = "anonymous"
	}
	return &Principal{ID: id, Method: models.AuthMethodBearer, Scopes: claims.Scopes}, nil
}
