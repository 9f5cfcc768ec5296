package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"quizroom-service/internal/domain"
)

func TestIssueAndVerify(t *testing.T) {
	issuer := NewIssuer("secret", "quizroom", time.Hour)
	token, err := issuer.Issue(domain.Identity{ParticipantID: "p1", Name: "Ada", OwnedRooms: []string{"room-1"}})
	require.NoError(t, err)

	id, err := NewVerifier("secret", "quizroom").Verify(token)
	require.NoError(t, err)
	require.Equal(t, "p1", id.ParticipantID)
	require.Equal(t, "Ada", id.Name)
	require.True(t, id.Owns("room-1"))
	require.False(t, id.Owns("room-2"))
}

func TestVerifyRejects(t *testing.T) {
	good := NewIssuer("secret", "quizroom", time.Hour)

	expired := NewIssuer("secret", "quizroom", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }

	otherIssuer := NewIssuer("secret", "elsewhere", time.Hour)
	otherSecret := NewIssuer("not-the-secret", "quizroom", time.Hour)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "p1",
			Issuer:    "quizroom",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "p1", Issuer: "quizroom"},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	cases := map[string]string{
		"empty":         "",
		"garbage":       "not-a-jwt",
		"expired":       mustIssue(t, expired),
		"wrong issuer":  mustIssue(t, otherIssuer),
		"wrong secret":  mustIssue(t, otherSecret),
		"wrong method":  hs512,
		"missing exp":   noExp,
		"valid control": mustIssue(t, good),
	}

	v := NewVerifier("secret", "quizroom")
	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.Verify(token)
			if name == "valid control" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, errors.Is(err, domain.ErrAuthenticationFailure), "got %v", err)
		})
	}
}

func TestTokenFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/quizroom/room-1?token=query", nil)
	require.Equal(t, "query", TokenFromRequest(r, "session"))

	r.AddCookie(&http.Cookie{Name: "session", Value: "cookie"})
	require.Equal(t, "cookie", TokenFromRequest(r, "session"))

	r.Header.Set("Authorization", "Bearer header")
	require.Equal(t, "header", TokenFromRequest(r, "session"))
}

func mustIssue(t *testing.T, i *Issuer) string {
	t.Helper()
	token, err := i.Issue(domain.Identity{ParticipantID: "p1"})
	require.NoError(t, err)
	return token
}
