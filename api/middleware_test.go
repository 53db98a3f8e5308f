package api

import (
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func runGzipMiddleware(t *testing.T, limit int64, encoding string, body []byte) (string, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	if encoding != "" {
		req.Header.Set(echo.HeaderContentEncoding, encoding)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var got string
	err := GzipRequestMiddleware(limit)(func(c echo.Context) error {
		if hasGzipEncoding(encoding) && c.Request().Header.Get(echo.HeaderContentEncoding) != "" {
			t.Fatal("content encoding should be cleared")
		}
		b, err := io.ReadAll(c.Request().Body)
		got = string(b)
		return errors.Join(err, c.Request().Body.Close())
	})(c)
	return got, err
}

func TestGzipRequestMiddleware(t *testing.T) {
	got, err := runGzipMiddleware(t, 0, "gzip", gzipBytes(t, `{"title":"x"}`))
	if err != nil || got != `{"title":"x"}` {
		t.Fatalf("unexpected result: %q %v", got, err)
	}

	got, err = runGzipMiddleware(t, 0, "identity, X-Gzip", gzipBytes(t, "abc"))
	if err != nil || got != "abc" {
		t.Fatalf("x-gzip should decode: %q %v", got, err)
	}
}

func TestGzipRequestMiddlewarePassThrough(t *testing.T) {
	got, err := runGzipMiddleware(t, 0, "", []byte("plain"))
	if err != nil || got != "plain" {
		t.Fatalf("unexpected result: %q %v", got, err)
	}
}

func TestGzipRequestMiddlewareLimit(t *testing.T) {
	got, err := runGzipMiddleware(t, 4, "gzip", gzipBytes(t, strings.Repeat("a", 100)))
	if !errors.Is(err, errBodyTooLarge) {
		t.Fatalf("expected errBodyTooLarge, got %v", err)
	}
	if got != "aaaa" {
		t.Fatalf("expected the first limit bytes, got %q", got)
	}

	got, err = runGzipMiddleware(t, 4, "gzip", gzipBytes(t, "abcd"))
	if err != nil || got != "abcd" {
		t.Fatalf("a body of exactly limit bytes should pass: %q %v", got, err)
	}
}

func TestReadCapped(t *testing.T) {
	if _, err := readCapped(strings.NewReader(strings.Repeat("x", 11)), 10); !errors.Is(err, errBodyTooLarge) {
		t.Fatalf("expected errBodyTooLarge, got %v", err)
	}
	data, err := readCapped(strings.NewReader(strings.Repeat("x", 10)), 10)
	if err != nil || len(data) != 10 {
		t.Fatalf("unexpected result: %d %v", len(data), err)
	}
}

func TestGzipRequestMiddlewareInvalid(t *testing.T) {
	_, err := runGzipMiddleware(t, 0, "gzip", []byte("nope"))
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 http error, got %v", err)
	}
}
