package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Wyydra/ya-call/internal/adapter/driven/directory/firestore"
	dirmemory "github.com/Wyydra/ya-call/internal/adapter/driven/directory/memory"
	"github.com/Wyydra/ya-call/internal/adapter/driven/firebaseapp"
	"github.com/Wyydra/ya-call/internal/adapter/driven/gateway/ws"
	"github.com/Wyydra/ya-call/internal/adapter/driven/media/pion"
	fssignal "github.com/Wyydra/ya-call/internal/adapter/driven/signal/firestore"
	"github.com/Wyydra/ya-call/internal/adapter/driven/signal/memory"
	redisrelay "github.com/Wyydra/ya-call/internal/adapter/driven/signal/redis"
	handler "github.com/Wyydra/ya-call/internal/adapter/driving/http"
	"github.com/Wyydra/ya-call/internal/config"
	"github.com/Wyydra/ya-call/internal/core/domain"
	"github.com/Wyydra/ya-call/internal/core/port"
	"github.com/Wyydra/ya-call/internal/core/service"
	"github.com/Wyydra/ya-call/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		setupLogger("info", "console")
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	relay, directory, closeBackend, err := openBackend(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.SignalBackend).Msg("Failed to open signaling backend")
	}
	defer closeBackend()
	relay = m.InstrumentRelay(relay)

	transports, err := pion.NewFactory(pion.Options{
		STUNURLs:            cfg.STUNURLs,
		DisconnectedTimeout: cfg.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.ICEFailedTimeout,
		KeepAliveInterval:   cfg.ICEKeepAliveInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create WebRTC API")
	}

	calls := service.NewCallService(service.Config{
		Self:           domain.UserID(cfg.UserID),
		Signals:        relay,
		Sessions:       relay,
		Transports:     transports,
		Media:          mediaSource(cfg.MediaSource),
		Directory:      directory,
		RingTimeout:    cfg.RingTimeout,
		ConnectTimeout: cfg.ConnectTimeout,
		LookupTimeout:  cfg.LookupTimeout,
	})
	m.Observe(calls)

	hub := ws.NewHub()
	h := handler.NewHandler(calls, hub, registry)
	h.StaticDir = cfg.StaticDir

	go hub.Run()

	if err := calls.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start call service")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h.NewRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.HTTPAddr).Str("user_id", cfg.UserID).Msg("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := calls.Close(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Call service did not stop cleanly")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	log.Info().Msg("Server exited")
}

func setupLogger(level, format string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stdout
	if format != "json" {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
}

func openBackend(ctx context.Context, cfg *config.Config) (port.Relay, port.UserDirectory, func(), error) {
	switch cfg.SignalBackend {
	case config.BackendFirestore:
		clients, err := firebaseapp.New(ctx, cfg.FirebaseProjectID, cfg.FirebaseCredentialsPath)
		if err != nil {
			return nil, nil, nil, err
		}
		relay := fssignal.NewRelay(clients.Firestore, fssignal.DefaultSignalRetention)
		closeFn := func() {
			relay.Flush()
			if err := clients.Close(); err != nil {
				log.Warn().Err(err).Msg("Closing firestore client")
			}
		}
		return relay, firestore.NewUserDirectory(clients.Firestore, clients.Auth), closeFn, nil

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, nil, err
		}
		log.Info().Str("addr", cfg.RedisAddr).Msg("Connected to redis")
		closeFn := func() {
			if err := rdb.Close(); err != nil {
				log.Warn().Err(err).Msg("Closing redis client")
			}
		}
		return redisrelay.NewRelay(rdb, cfg.RedisKeyPrefix), contacts(cfg), closeFn, nil

	default:
		log.Warn().Msg("Using in-process signaling; only calls within this process can connect")
		return memory.NewRelay(), contacts(cfg), func() {}, nil
	}
}

func contacts(cfg *config.Config) *dirmemory.UserDirectory {
	dir := dirmemory.NewUserDirectory()
	for id, name := range cfg.Contacts {
		dir.Put(domain.User{ID: domain.UserID(id), DisplayName: name})
	}
	return dir
}

func mediaSource(kind string) port.MediaSource {
	if kind == config.MediaDevices {
		if pion.CaptureAvailable {
			return pion.DeviceSource{}
		}
		log.Warn().Msg("Built without capture support, falling back to synthetic media")
	}
	return pion.SyntheticSource{}
}
