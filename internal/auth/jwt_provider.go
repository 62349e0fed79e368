package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/adminpilot/control-plane/pkg/contracts"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims is the payload of an admin bearer token.
type Claims struct {
	Role  string `json:"role"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTProvider validates HS256 bearer tokens.
//
// Config: ADMINPILOT_JWT_SECRET (signing key) and ADMINPILOT_JWT_ISSUER.
type JWTProvider struct {
	secret []byte
	issuer string
}

// NewJWTProvider creates the provider. An empty secret disables it.
func NewJWTProvider(secret, issuer string) *JWTProvider {
	return &JWTProvider{secret: []byte(secret), issuer: issuer}
}

func (p *JWTProvider) Name() string  { return "jwt" }
func (p *JWTProvider) Enabled() bool { return len(p.secret) > 0 }

// Authenticate validates the bearer token.
// Returns (nil, nil) if there is no JWT-shaped bearer credential.
// Returns (nil, error) if the token is present but invalid or expired.
func (p *JWTProvider) Authenticate(_ context.Context, r *http.Request) (*contracts.Identity, error) {
	token := bearerToken(r)
	if token == "" || !looksLikeJWT(token) {
		return nil, nil
	}

	claims, err := p.parse(token)
	if err != nil {
		return nil, fmt.Errorf("invalid bearer token: %w", err)
	}

	identity := &contracts.Identity{
		Subject:     claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.Name,
		Provider:    "jwt",
		Role:        claims.Role,
	}
	if claims.ExpiresAt != nil {
		identity.ExpiresAt = claims.ExpiresAt.Time
	}
	if identity.DisplayName == "" {
		identity.DisplayName = claims.Subject
	}
	return identity, nil
}

func (p *JWTProvider) parse(token string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}

	claims := &Claims{}
	if _, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return p.secret, nil
	}, opts...); err != nil {
		return nil, err
	}
	if claims.Subject == "" {
		return nil, errors.New("missing subject")
	}
	return claims, nil
}

// MintToken creates a signed admin bearer token. Used by apctl and tests.
func MintToken(secret []byte, issuer, subject, role string, ttl time.Duration) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("signing secret is required")
	}
	if subject == "" {
		return "", errors.New("subject is required")
	}
	now := time.Now()
	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
