package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskboard/api"
	"taskboard/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}
	logger := log.StandardLogger()

	connStr := os.Getenv("STORAGE_CONNECTION_STRING")
	tasksTable := os.Getenv("TASKS_TABLE")
	usersTable := os.Getenv("USERS_TABLE")
	eventsQueue := os.Getenv("EVENTS_QUEUE")
	if connStr == "" || tasksTable == "" || usersTable == "" || eventsQueue == "" {
		log.Fatal("missing storage config")
	}
	base, err := storage.New(connStr, tasksTable, usersTable, eventsQueue)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	redisConn := os.Getenv("REDIS_CONNECTION_STRING")
	if redisConn == "" {
		log.Fatal("missing redis config")
	}
	rc := redis.NewClient(storage.ParseRedisOptions(redisConn))
	defer rc.Close()

	store := storage.NewCache(base, rc, durationEnv("TASKS_CACHE_TTL", time.Minute))
	deduper := api.NewRedisDeduper(rc, durationEnv("DEDUPER_TTL", 24*time.Hour))

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("missing JWT_SECRET")
	}
	sessions := api.NewSessionAuth([]byte(secret), durationEnv("SESSION_TTL", 24*time.Hour))

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.WithError(err).Warn("tracer shutdown")
		}
	}()

	events, err := api.NewEventPublisher(store, logger, api.PoolConfigFromEnv())
	if err != nil {
		log.WithError(err).Fatal("failed to open event wal")
	}
	defer events.Close()

	frontend := os.Getenv("FRONTEND_URL")
	if frontend == "" {
		frontend = "http://localhost:5173"
	}

	e := echo.New()
	e.HideBanner = true
	e.JSONSerializer = api.SonicSerializer{}
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{frontend},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, "Idempotency-Key"},
		AllowCredentials: true,
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(api.GzipRequestMiddleware(64 * 1024))

	api.Register(e, api.Deps{
		Store:   store,
		Auth:    sessions,
		Deduper: deduper,
		Events:  events,
		Log:     logger,
	})

	if clientID := os.Getenv("GOOGLE_CLIENT_ID"); clientID != "" {
		jwks, err := keyfunc.Get(api.GoogleJWKSURL, keyfunc.Options{
			RefreshInterval:   time.Hour,
			RefreshUnknownKID: true,
			RefreshErrorHandler: func(err error) {
				log.WithError(err).Warn("refresh google jwks")
			},
		})
		if err != nil {
			log.Fatalf("jwks: %v", err)
		}
		defer jwks.EndBackground()

		secure, _ := strconv.ParseBool(os.Getenv("COOKIE_SECURE"))
		login := api.NewGoogleLogin(api.GoogleConfig{
			ClientID:     clientID,
			ClientSecret: os.Getenv("GOOGLE_CLIENT_SECRET"),
			RedirectURL:  os.Getenv("GOOGLE_REDIRECT_URL"),
			FrontendURL:  frontend,
			CookieSecure: secure,
		}, jwks.Keyfunc, api.NewRedisStateStore(rc, 0), store, sessions, logger)
		api.RegisterAuth(e, login)
	} else {
		log.Warn("GOOGLE_CLIENT_ID not set; login routes disabled")
	}

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("PORT"); ok {
		listenAddr = ":" + val
	}

	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("shutdown")
	}
}

func durationEnv(name string, def time.Duration) time.Duration {
	v := os.Getenv(name)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		log.Fatalf("invalid %s: %q", name, v)
	}
	return d
}
