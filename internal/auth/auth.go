package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/npezzotti/go-crudder/internal/conversation"
	"github.com/npezzotti/go-crudder/internal/database"
	"github.com/npezzotti/go-crudder/internal/types"
)

var ErrUnauthenticated = errors.New("unauthenticated")

const (
	AccessTokenCookie = "accessToken"
	LegacyTokenCookie = "token"
	bearerPrefix      = "Bearer "
)

// Verifier validates HS256 access tokens and resolves their subject against
// the user store. Lookups bypass the profile cache so a removed account
// stops authenticating immediately.
type Verifier struct {
	signingKey []byte
	users      database.UserStore
	now        func() time.Time
}

func NewVerifier(signingKey []byte, users database.UserStore) *Verifier {
	return &Verifier{
		signingKey: signingKey,
		users:      users,
		now:        time.Now,
	}
}

// Verify returns the user identified by token. Every failure, including an
// unknown subject, is reported as ErrUnauthenticated.
func (v *Verifier) Verify(ctx context.Context, tokenString string) (types.User, error) {
	userId, err := v.subject(tokenString)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}

	if !conversation.ValidParticipantId(userId) {
		return types.User{}, fmt.Errorf("%w: invalid subject %q", ErrUnauthenticated, userId)
	}

	user, err := v.users.GetUserById(ctx, userId)
	if err != nil {
		return types.User{}, fmt.Errorf("%w: lookup subject: %v", ErrUnauthenticated, err)
	}

	return types.UserFromModel(user), nil
}

func (v *Verifier) subject(tokenString string) (string, error) {
	if tokenString == "" {
		return "", errors.New("empty token")
	}

	claims := &jwt.StandardClaims{}
	parser := &jwt.Parser{
		ValidMethods:         []string{jwt.SigningMethodHS256.Alg()},
		SkipClaimsValidation: true,
	}

	token, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return v.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	if !token.Valid {
		return "", errors.New("invalid token")
	}

	now := v.now().Unix()
	if !claims.VerifyExpiresAt(now, true) {
		return "", errors.New("token expired or missing exp")
	}

	if claims.NotBefore != 0 && !claims.VerifyNotBefore(now, true) {
		return "", errors.New("token not yet valid")
	}

	if claims.Subject == "" {
		return "", errors.New("missing subject")
	}

	return claims.Subject, nil
}

// IssueToken signs an access token for userId valid for ttl.
func (v *Verifier) IssueToken(userId string, ttl time.Duration) (string, error) {
	now := v.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.StandardClaims{
		Subject:   userId,
		IssuedAt:  now.Unix(),
		ExpiresAt: now.Add(ttl).Unix(),
	})

	return token.SignedString(v.signingKey)
}

// TokenFromRequest extracts a credential from the accessToken cookie, the
// token cookie or a bearer Authorization header, in that order.
func TokenFromRequest(r *http.Request) (string, bool) {
	for _, name := range []string{AccessTokenCookie, LegacyTokenCookie} {
		if c, err := r.Cookie(name); err == nil && c.Value != "" {
			return c.Value, true
		}
	}

	header := r.Header.Get("Authorization")
	if len(header) > len(bearerPrefix) && strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return strings.TrimSpace(header[len(bearerPrefix):]), true
	}

	return "", false
}
