package api

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"taskboard/domain"
)

const (
	sessionIssuer     = "taskboard"
	defaultSessionTTL = 24 * time.Hour
	clockSkew         = time.Minute
)

// SessionAuth mints and validates the HS256 session tokens handed out after
// a Google login.
type SessionAuth struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// NewSessionAuth creates a SessionAuth signing with secret. ttl <= 0 selects
// the 24h default.
func NewSessionAuth(secret []byte, ttl time.Duration) *SessionAuth {
	if len(secret) == 0 {
		panic("api.NewSessionAuth: empty secret")
	}
	if ttl <= 0 {
		ttl = defaultSessionTTL
	}
	return &SessionAuth{
		secret: secret,
		ttl:    ttl,
		now:    time.Now,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithoutClaimsValidation()),
	}
}

// TTL is the lifetime of issued tokens.
func (a *SessionAuth) TTL() time.Duration { return a.ttl }

// Issue signs a session token for u.
func (a *SessionAuth) Issue(u domain.User) (string, time.Time, error) {
	if u.ID == "" {
		return "", time.Time{}, errors.New("missing user id")
	}
	now := a.now()
	exp := now.Add(a.ttl)
	claims := jwt.MapClaims{
		"sub": u.ID,
		"iss": sessionIssuer,
		"iat": now.Unix(),
		"exp": exp.Unix(),
	}
	if u.Email != "" {
		claims["email"] = u.Email
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// SessionFromAuthHeader validates a "Bearer <jwt>" header value.
func (a *SessionAuth) SessionFromAuthHeader(h string) (Session, error) {
	token, err := bearerTokenFromString(h)
	if err != nil {
		return Session{}, err
	}
	return a.SessionFromToken(token)
}

// SessionFromToken validates a raw session token.
func (a *SessionAuth) SessionFromToken(tokenStr string) (Session, error) {
	if tokenStr == "" {
		return Session{}, errBadAuthorization
	}
	parsed, err := a.parser.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return Session{}, err
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Session{}, errors.New("invalid claims")
	}

	now := a.now()
	if !claims.VerifyExpiresAt(now.Add(-clockSkew).Unix(), true) {
		return Session{}, errors.New("token expired")
	}
	if !claims.VerifyIssuedAt(now.Add(clockSkew).Unix(), false) {
		return Session{}, errors.New("token used before issued")
	}
	if !claims.VerifyIssuer(sessionIssuer, true) {
		return Session{}, errors.New("invalid issuer")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Session{}, errors.New("missing sub")
	}
	email, _ := claims["email"].(string)
	return Session{UserID: sub, Email: email}, nil
}
