package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/telhawk-systems/tabula/internal/models"
)

// Claims is the access token layout of the identity provider: the
// subject is the identity ID and the display name lives in user metadata.
type Claims struct {
	Email        string       `json:"email,omitempty"`
	UserMetadata UserMetadata `json:"user_metadata,omitempty"`
	jwt.RegisteredClaims
}

type UserMetadata struct {
	FullName string `json:"full_name,omitempty"`
	Name     string `json:"name,omitempty"`
}

func (m UserMetadata) DisplayName() string {
	if m.FullName != "" {
		return m.FullName
	}
	return m.Name
}

// JWTVerifier validates HS256 access tokens signed with the provider's
// shared secret.
type JWTVerifier struct {
	secret   []byte
	audience string
	issuer   string
}

type JWTOption func(*JWTVerifier)

// WithAudience requires the aud claim to contain aud.
func WithAudience(aud string) JWTOption {
	return func(v *JWTVerifier) { v.audience = aud }
}

// WithIssuer requires the iss claim to equal iss.
func WithIssuer(iss string) JWTOption {
	return func(v *JWTVerifier) { v.issuer = iss }
}

func NewJWTVerifier(secret string, opts ...JWTOption) *JWTVerifier {
	v := &JWTVerifier{secret: []byte(secret)}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (models.Identity, error) {
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return models.Identity{}, fmt.Errorf("%w: token expired", ErrInvalidCredential)
		}
		return models.Identity{}, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return models.Identity{}, ErrInvalidCredential
	}

	return models.Identity{
		ID:          claims.Subject,
		Email:       claims.Email,
		DisplayName: claims.UserMetadata.DisplayName(),
	}, nil
}

// Signer mints tokens JWTVerifier accepts. The CLI uses it to issue
// development tokens.
type Signer struct {
	secret   []byte
	ttl      time.Duration
	audience string
	issuer   string
	now      func() time.Time
}

func NewSigner(secret string, ttl time.Duration, audience, issuer string) *Signer {
	return &Signer{secret: []byte(secret), ttl: ttl, audience: audience, issuer: issuer, now: time.Now}
}

func (s *Signer) Sign(id models.Identity) (string, error) {
	now := s.now()
	claims := Claims{
		Email:        id.Email,
		UserMetadata: UserMetadata{FullName: id.DisplayName},
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}
	if s.audience != "" {
		claims.Audience = jwt.ClaimStrings{s.audience}
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}
