package api

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"taskboard/domain"
)

// GoogleJWKSURL publishes the keys Google signs ID tokens with.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

const exchangeTimeout = 10 * time.Second

// GoogleConfig configures the Google login routes.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	// FrontendURL is where the browser lands after the callback.
	FrontendURL  string
	CookieSecure bool
	// Endpoint overrides google.Endpoint.
	Endpoint oauth2.Endpoint
}

// GoogleLogin runs the OAuth code flow against Google and hands out session
// tokens.
type GoogleLogin struct {
	oauth    *oauth2.Config
	keys     jwt.Keyfunc
	parser   *jwt.Parser
	states   StateStore
	users    UserStore
	sessions *SessionAuth
	frontend string
	secure   bool
	log      *log.Logger
}

// NewGoogleLogin wires the login flow. keys resolves Google's signing keys,
// normally (*keyfunc.JWKS).Keyfunc.
func NewGoogleLogin(cfg GoogleConfig, keys jwt.Keyfunc, states StateStore, users UserStore, sessions *SessionAuth, logger *log.Logger) *GoogleLogin {
	endpoint := cfg.Endpoint
	if endpoint.AuthURL == "" {
		endpoint = google.Endpoint
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &GoogleLogin{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		keys:     keys,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{"RS256"})),
		states:   states,
		users:    users,
		sessions: sessions,
		frontend: strings.TrimRight(cfg.FrontendURL, "/"),
		secure:   cfg.CookieSecure,
		log:      logger,
	}
}

// RegisterAuth wires the login routes.
func RegisterAuth(e *echo.Echo, g *GoogleLogin) {
	e.GET("/auth/google", g.start())
	e.GET("/auth/google/callback", g.callback())
	e.GET("/auth/session", g.session())
	e.POST("/auth/logout", g.logout())
}

func (g *GoogleLogin) start() echo.HandlerFunc {
	return func(c echo.Context) error {
		state, err := randomState()
		if err != nil {
			g.log.WithError(err).Error("generate oauth state")
			return c.String(http.StatusInternalServerError, "failed to start login")
		}
		if err := g.states.Save(c.Request().Context(), state); err != nil {
			g.log.WithError(err).Error("store oauth state")
			return c.String(http.StatusInternalServerError, "failed to start login")
		}
		return c.Redirect(http.StatusFound, g.oauth.AuthCodeURL(state, oauth2.AccessTypeOnline))
	}
}

func (g *GoogleLogin) callback() echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		fail := func(reason string, err error) error {
			entry := g.log.WithField("reason", reason)
			if err != nil {
				entry = entry.WithError(err)
			}
			entry.Warn("google login failed")
			return c.Redirect(http.StatusFound, g.frontend+"/login")
		}

		if e := c.QueryParam("error"); e != "" {
			return fail("consent", errors.New(e))
		}
		ok, err := g.states.Consume(ctx, c.QueryParam("state"))
		if err != nil {
			return fail("state_lookup", err)
		}
		if !ok {
			return fail("state_mismatch", nil)
		}
		code := c.QueryParam("code")
		if code == "" {
			return fail("no_code", nil)
		}

		exCtx, cancel := context.WithTimeout(ctx, exchangeTimeout)
		tok, err := g.oauth.Exchange(exCtx, code)
		cancel()
		if err != nil {
			return fail("token_exchange", err)
		}
		rawID, _ := tok.Extra("id_token").(string)
		if rawID == "" {
			return fail("missing_id_token", nil)
		}
		user, err := g.verifyIDToken(rawID)
		if err != nil {
			return fail("invalid_id_token", err)
		}
		if err := g.users.UpsertUser(ctx, user); err != nil {
			return fail("upsert_user", err)
		}
		signed, exp, err := g.sessions.Issue(user)
		if err != nil {
			return fail("issue_session", err)
		}

		c.SetCookie(&http.Cookie{
			Name:     sessionCookie,
			Value:    signed,
			Path:     "/",
			Expires:  exp,
			MaxAge:   int(g.sessions.TTL() / time.Second),
			Secure:   g.secure,
			SameSite: http.SameSiteStrictMode,
		})
		g.log.WithField("user", user.ID).Info("google login successful")
		return c.Redirect(http.StatusFound, g.frontend+"/dashboard")
	}
}

func (g *GoogleLogin) session() echo.HandlerFunc {
	return func(c echo.Context) error {
		sess, err := g.sessions.SessionFromAuthHeader(authHeaderFromRequest(c.Request()))
		if err != nil {
			return c.JSON(http.StatusOK, sessionResponse{Authenticated: false})
		}
		return c.JSON(http.StatusOK, sessionResponse{Authenticated: true, UserID: sess.UserID, Email: sess.Email})
	}
}

func (g *GoogleLogin) logout() echo.HandlerFunc {
	return func(c echo.Context) error {
		c.SetCookie(&http.Cookie{
			Name:     sessionCookie,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			Secure:   g.secure,
			SameSite: http.SameSiteStrictMode,
		})
		return c.JSON(http.StatusOK, sessionResponse{Authenticated: false})
	}
}

// verifyIDToken checks signature, audience, issuer and email verification
// of a Google ID token.
func (g *GoogleLogin) verifyIDToken(raw string) (domain.User, error) {
	if g.keys == nil {
		return domain.User{}, errors.New("jwks not configured")
	}
	parsed, err := g.parser.Parse(raw, g.keys)
	if err != nil {
		return domain.User{}, err
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return domain.User{}, errors.New("invalid claims")
	}
	if !claims.VerifyAudience(g.oauth.ClientID, true) {
		return domain.User{}, errors.New("invalid audience")
	}
	validIssuer := false
	for _, iss := range googleIssuers {
		if claims.VerifyIssuer(iss, true) {
			validIssuer = true
			break
		}
	}
	if !validIssuer {
		return domain.User{}, errors.New("invalid issuer")
	}
	if !emailVerified(claims["email_verified"]) {
		return domain.User{}, errors.New("email not verified")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.User{}, errors.New("missing sub")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	return domain.User{ID: sub, Email: email, Name: name}, nil
}

// emailVerified accepts both the boolean and the string form Google has
// used for the claim.
func emailVerified(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		return strings.EqualFold(t, "true")
	}
	return false
}

func randomState() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
