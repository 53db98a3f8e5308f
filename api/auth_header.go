package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const (
	bearerPrefix  = "Bearer "
	sessionCookie = "token"
)

// authHeaderFromRequest returns the Authorization header, or a bearer value
// built from the session cookie when the header is absent.
func authHeaderFromRequest(req *http.Request) string {
	if h := req.Header.Get(echo.HeaderAuthorization); h != "" {
		return h
	}
	if ck, err := req.Cookie(sessionCookie); err == nil && ck.Value != "" {
		return bearerPrefix + ck.Value
	}
	return ""
}

func bearerTokenFromString(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", errMissingAuthorization
	}
	if len(trimmed) <= len(bearerPrefix) || !strings.EqualFold(trimmed[:len(bearerPrefix)], bearerPrefix) {
		return "", errBadAuthorization
	}
	token := strings.TrimSpace(trimmed[len(bearerPrefix):])
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
