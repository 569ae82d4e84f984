package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/config"
	"github.com/telecare/telecare/internal/domain/scheduling"
	"github.com/telecare/telecare/internal/platform/auth"
	"github.com/telecare/telecare/internal/platform/db"
	"github.com/telecare/telecare/internal/platform/lock"
	"github.com/telecare/telecare/internal/platform/meeting"
	"github.com/telecare/telecare/internal/platform/middleware"
	"github.com/telecare/telecare/internal/platform/notification"
	"github.com/telecare/telecare/internal/platform/validate"
)

const (
	lockPrefix       = "telecare:"
	consumerName     = "telecare-server"
	consumerPrefetch = 16
	busBuffer        = 256
)

// deps holds everything the HTTP layer needs plus the teardown for it.
type deps struct {
	scheduling    *scheduling.Service
	notifications notification.Store
	checks        []db.Check
	closers       []func()
	closeOnce     sync.Once
}

func (d *deps) onClose(fn func()) { d.closers = append(d.closers, fn) }

// close runs teardown once, in reverse order of acquisition.
func (d *deps) close() {
	d.closeOnce.Do(func() {
		for i := len(d.closers) - 1; i >= 0; i-- {
			d.closers[i]()
		}
	})
}

func buildDeps(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (_ *deps, err error) {
	d := &deps{}
	defer func() {
		if err != nil {
			d.close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	// Storage
	var (
		templates    scheduling.TemplateRepository
		appointments scheduling.AppointmentRepository
		doctors      scheduling.DoctorDirectory
	)
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		d.onClose(pool.Close)
		d.checks = append(d.checks, db.PoolCheck(pool))
		logger.Info().Msg("connected to database")

		templates = scheduling.NewTemplateRepoPG(pool)
		appointments = scheduling.NewAppointmentRepoPG(pool)
		doctors = scheduling.NewDoctorDirectoryPG(pool)
		d.notifications = notification.NewStorePG(pool)
	default:
		seeds, err := cfg.SeedDoctors()
		if err != nil {
			return nil, err
		}
		memDoctors := scheduling.NewMemoryDoctors()
		for _, id := range seeds {
			memDoctors.Put(id, true)
		}
		templates = scheduling.NewMemoryTemplates()
		appointments = scheduling.NewMemoryAppointments()
		doctors = memDoctors
		d.notifications = notification.NewMemoryStore()
		logger.Warn().Int("seed_doctors", len(seeds)).Msg("using in-memory store; data is lost on restart")
	}

	// Booking lock
	var locker lock.Locker
	if cfg.RedisURL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		d.onClose(func() { _ = client.Close() })
		d.checks = append(d.checks, db.Check{
			Name: "redis",
			Ping: func(ctx context.Context) error { return client.Ping(ctx).Err() },
		})
		locker = lock.NewRedisLocker(client, lockPrefix, logger)
	} else {
		logger.Warn().Msg("REDIS_URL not set; booking locks are process local")
		locker = lock.NewLocalLocker()
	}

	// Notifications
	publisher, err := startNotifications(ctx, cfg, logger, d)
	if err != nil {
		return nil, err
	}

	meetings, err := meeting.NewRoomProvisioner(cfg.MeetingBaseURL)
	if err != nil {
		return nil, err
	}

	d.scheduling = scheduling.NewService(templates, appointments, doctors, scheduling.Collaborators{
		Locker:   locker,
		Meetings: meetings,
		Notifier: publisher,
	}, scheduling.Options{
		Location:    loc,
		CallTimeout: cfg.ExternalCallTimeout,
		LockTTL:     cfg.BookingLockTTL,
	}, logger)
	return d, nil
}

// startNotifications picks RabbitMQ when AMQP_URL is set and the in-process
// bus otherwise, and starts the dispatcher that persists what is published.
func startNotifications(ctx context.Context, cfg *config.Config, logger zerolog.Logger, d *deps) (notification.Publisher, error) {
	dispatcher := notification.NewDispatcher(d.notifications, logger)

	if cfg.AMQPURL == "" {
		bus := notification.NewBus(busBuffer)
		done := make(chan struct{})
		go func() {
			defer close(done)
			dispatcher.RunBus(ctx, bus)
		}()
		d.onClose(func() {
			bus.Close()
			<-done
		})
		return bus, nil
	}

	conn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	d.onClose(func() { _ = conn.Close() })
	d.checks = append(d.checks, db.Check{
		Name: "rabbitmq",
		Ping: func(context.Context) error {
			if conn.IsClosed() {
				return errors.New("connection closed")
			}
			return nil
		},
	})

	publisher, err := notification.NewAMQPPublisher(conn, cfg.NotificationQueue)
	if err != nil {
		return nil, err
	}
	d.onClose(func() { _ = publisher.Close() })

	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open consumer channel: %w", err)
	}
	d.onClose(func() { _ = ch.Close() })
	deliveries, err := notification.Consume(ch, cfg.NotificationQueue, consumerName, consumerPrefetch)
	if err != nil {
		return nil, err
	}
	go dispatcher.RunDeliveries(ctx, deliveries)

	logger.Info().Str("queue", cfg.NotificationQueue).Msg("notifications routed through rabbitmq")
	return publisher, nil
}

func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	if cfg.ResolvedAuthMode() == config.AuthModeDevelopment {
		return auth.DevAuthMiddleware()
	}
	return auth.JWTMiddleware(auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: []byte(cfg.AuthSigningKey),
	})
}

func newServer(cfg *config.Config, logger zerolog.Logger, d *deps) (*echo.Echo, error) {
	if d.scheduling == nil || d.notifications == nil {
		return nil, errors.New("scheduling service and notification store are required")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = validate.New()

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", middleware.RequestIDHeader, auth.DevUserIDHeader, auth.DevRoleHeader},
	}))
	e.Use(middleware.BodyLimit("64K"))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))

	e.GET("/health", db.HealthHandler(d.checks...))

	// Rate limiting runs after auth so buckets are per actor.
	api := e.Group("/api/v1", authMiddleware(cfg), middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))

	scheduling.NewHandler(d.scheduling).RegisterRoutes(api)
	notification.NewHandler(d.notifications).RegisterRoutes(api)

	return e, nil
}
