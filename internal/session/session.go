package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/skobkin/roomsync/internal/domain"
)

var (
	ErrNoCredential      = errors.New("no credential provided")
	ErrCredentialExpired = errors.New("credential has expired")
)

// Claims are the fields read from an access token. The signature is not
// checked here; the server does that on every request.
type Claims struct {
	UserID    int64
	ExpiresAt time.Time
}

// ParseClaims reads user_id and exp from a JWT access token without verifying it.
func ParseClaims(credential string) (Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(credential, jwt.MapClaims{})
	if err != nil {
		return Claims{}, fmt.Errorf("parse access token: %w", err)
	}
	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, errors.New("parse access token: unexpected claims type")
	}

	var out Claims
	switch v := mc["user_id"].(type) {
	case float64:
		out.UserID = int64(v)
	case string:
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			out.UserID = id
		}
	}
	if exp, err := mc.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	return out, nil
}

// Session is the signed-in user as seen by the sync core. It is never mutated.
type Session struct {
	UserID     int64
	Username   string
	Credential string
	Identity   domain.Identity
	ExpiresAt  time.Time
}

// UserFetcher returns the user a credential belongs to.
type UserFetcher interface {
	Me(ctx context.Context, credential string) (domain.Participant, error)
}

// Resolve builds a session for credential. Opaque credentials are accepted;
// JWT credentials are checked for expiry and against the reported user id.
func Resolve(ctx context.Context, credential string, users UserFetcher, canon *domain.Canonicalizer, now time.Time) (Session, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return Session{}, ErrNoCredential
	}
	claims, claimsErr := ParseClaims(credential)
	if claimsErr == nil && !claims.ExpiresAt.IsZero() && !now.Before(claims.ExpiresAt) {
		return Session{}, fmt.Errorf("%w at %s", ErrCredentialExpired, claims.ExpiresAt.Format(time.RFC3339))
	}

	me, err := users.Me(ctx, credential)
	if err != nil {
		return Session{}, fmt.Errorf("resolve session: %w", err)
	}
	if claimsErr == nil && claims.UserID > 0 && claims.UserID != me.ID {
		return Session{}, fmt.Errorf("resolve session: token user %d does not match api user %d", claims.UserID, me.ID)
	}
	if canon == nil {
		canon = domain.NewCanonicalizer()
	}
	canon.Register(me.ID, me.Username)

	return Session{
		UserID:     me.ID,
		Username:   me.Username,
		Credential: credential,
		Identity:   canon.Canonical(domain.SenderRef{ID: me.ID, Username: me.Username}),
		ExpiresAt:  claims.ExpiresAt,
	}, nil
}
