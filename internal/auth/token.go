// Package auth verifies the session tokens minted by the passkey side-channel
// and turns them into participant identities.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"quizroom-service/internal/domain"
)

// Claims is the session token payload.
type Claims struct {
	jwt.RegisteredClaims
	Name string   `json:"name"`
	Owns []string `json:"owns,omitempty"`
}

// Verifier checks HS256 session tokens.
type Verifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer, now: time.Now}
}

// Verify parses token and returns the identity it carries. Every failure is
// reported as domain.ErrAuthenticationFailure.
func (v *Verifier) Verify(token string) (domain.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.Identity{}, fmt.Errorf("missing token: %w", domain.ErrAuthenticationFailure)
	}
	if len(v.secret) == 0 {
		return domain.Identity{}, errors.New("token verifier is not configured")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("%v: %w", err, domain.ErrAuthenticationFailure)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return domain.Identity{}, fmt.Errorf("token sub is required: %w", domain.ErrAuthenticationFailure)
	}
	return domain.Identity{
		ParticipantID: claims.Subject,
		Name:          claims.Name,
		OwnedRooms:    claims.Owns,
	}, nil
}

// Issuer mints session tokens. The passkey service does this in production;
// the CLI and tests use it directly.
type Issuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret, issuer string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, ttl: ttl, now: time.Now}
}

// Issue signs a token for id.
func (i *Issuer) Issue(id domain.Identity) (string, error) {
	if id.ParticipantID == "" {
		return "", errors.New("participant id is required")
	}
	now := i.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   id.ParticipantID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name: id.Name,
		Owns: id.OwnedRooms,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// TokenFromRequest extracts the session token: Authorization header first,
// then the session cookie, then the token query parameter.
func TokenFromRequest(r *http.Request, cookieName string) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookieName != "" {
		if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
			return c.Value
		}
	}
	return r.URL.Query().Get("token")
}
