package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/goranbacvar/Cyviz/internal/api"
	"github.com/goranbacvar/Cyviz/internal/breaker"
	"github.com/goranbacvar/Cyviz/internal/broadcast"
	"github.com/goranbacvar/Cyviz/internal/chaos"
	"github.com/goranbacvar/Cyviz/internal/config"
	"github.com/goranbacvar/Cyviz/internal/devicehub"
	"github.com/goranbacvar/Cyviz/internal/liveness"
	"github.com/goranbacvar/Cyviz/internal/logging"
	"github.com/goranbacvar/Cyviz/internal/model"
	"github.com/goranbacvar/Cyviz/internal/notify"
	"github.com/goranbacvar/Cyviz/internal/retry"
	"github.com/goranbacvar/Cyviz/internal/router"
	"github.com/goranbacvar/Cyviz/internal/store"
	"github.com/goranbacvar/Cyviz/internal/tracing"
)

func main() {
	cfg := config.Load()
	logging.Init(logging.Options{Level: cfg.Log.Level, Path: cfg.Log.Path, Days: cfg.Log.Days})
	defer logging.Close()

	if cfg.APIKey == "" || cfg.DatabaseDSN == "" {
		logging.Fatal("startup_config", "fail", "api-key and database-dsn are required", nil)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx)
	if err != nil {
		logging.Fatal("tracing_init", "fail", err.Error(), nil)
		return
	}
	defer shutdownTracing(context.Background())

	st, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		logging.Fatal("store_open", "fail", err.Error(), nil)
		return
	}
	defer st.Close()

	devices := devicehub.New()
	bc := broadcast.New()
	notifier := notify.New(cfg.SlackHook)
	breakers := breaker.New(cfg.Queue.BreakerFailures, cfg.Queue.BreakerTimeout)
	chaosKnobs := chaos.New(cfg.Chaos.LatencyMinMs, cfg.Chaos.LatencyMaxMs, cfg.Chaos.DropRate)
	retryCfg := retry.Config{Delays: cfg.Queue.RetryBaseDelays, JitterMax: cfg.Queue.RetryJitterMax}

	rt := router.New(st, devices, breakers, bc, chaosKnobs, retryCfg, cfg.Queue.Capacity, cfg.Queue.RespTimeout)
	lm := liveness.New(st, bc, notifier, cfg.Queue.OfflineAfter)

	devices.OnTelemetry(func(deviceID, payload string) {
		onTelemetry(ctx, st, bc, lm, deviceID, payload)
	})
	devices.OnCommandResult(func(deviceID string, result devicehub.CommandResult) {
		rt.CommandResult(ctx, result)
		if err := lm.MarkOnline(ctx, deviceID); err != nil {
			logging.Warn("command_result_mark_online", "fail", err.Error(), map[string]any{"deviceId": deviceID})
		}
	})
	devices.OnConnect(func(deviceID string) {
		if err := lm.MarkOnline(ctx, deviceID); err != nil {
			logging.Warn("device_connect_mark_online", "fail", err.Error(), map[string]any{"deviceId": deviceID})
		}
	})

	if err := rt.ReconcilePending(ctx); err != nil {
		logging.Warn("startup_reconcile", "fail", err.Error(), nil)
	}
	rt.Start(ctx)
	go lm.Run(ctx)

	gin.SetMode(gin.ReleaseMode)
	app := gin.New()
	app.Use(gin.Recovery())
	api.New(st, rt, devices, bc, lm).Mount(app, cfg.APIKey)

	srv := &http.Server{Addr: cfg.Listen, Handler: app}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal("service_init", "fail", err.Error(), nil)
		}
	}()
	logging.Info("service_init", "", "", map[string]any{"listen": cfg.Listen})

	daemon.SdNotify(false, daemon.SdNotifyReady)

	<-ctx.Done()
	logging.Warn("service_exiting", "", "", nil)
	daemon.SdNotify(false, daemon.SdNotifyStopping)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Warn("service_exit", "error", err.Error(), nil)
	}
	rt.Stop()
	logging.Warn("service_exit", "success", "", nil)
}

func onTelemetry(ctx context.Context, st *store.Store, bc *broadcast.Hub, lm *liveness.Monitor, deviceID, payload string) {
	sample := &model.Telemetry{
		ID:        uuid.NewString(),
		DeviceID:  deviceID,
		Timestamp: time.Now(),
		Payload:   payload,
	}
	if err := st.AppendTelemetry(ctx, sample, model.TelemetryWindow); err != nil {
		logging.Warn("telemetry_append", "fail", err.Error(), map[string]any{"deviceId": deviceID})
		return
	}
	bc.TelemetryReceived(sample)
	if err := lm.MarkOnline(ctx, deviceID); err != nil {
		logging.Warn("telemetry_mark_online", "fail", err.Error(), map[string]any{"deviceId": deviceID})
	}
}
