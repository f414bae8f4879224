package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/camera-gateway/internal/backoff"
	"github.com/rickgao/camera-gateway/internal/config"
	"github.com/rickgao/camera-gateway/internal/database"
	"github.com/rickgao/camera-gateway/internal/decode"
	"github.com/rickgao/camera-gateway/internal/native/wsbridge"
	"github.com/rickgao/camera-gateway/internal/poller"
	"github.com/rickgao/camera-gateway/internal/queue"
	"github.com/rickgao/camera-gateway/internal/recorder"
	"github.com/rickgao/camera-gateway/internal/session"
	"github.com/rickgao/camera-gateway/internal/version"
)

// serve runs the gateway until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("configuration loaded",
		"instance_id", cfg.Instance.ID,
		"cloud_host", cfg.Cloud.Host(),
		"bridge_url", cfg.Bridge.URL,
		"sessions", len(cfg.Sessions),
	)

	// Optional recording database
	var (
		pool *pgxpool.Pool
		rec  *recorder.Recorder
	)
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Timescale.Host,
			"port", cfg.Database.Timescale.Port,
			"database", cfg.Database.Timescale.Name,
		)
		var err error
		pool, err = database.Connect(ctx, cfg.Database.Timescale)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := recorder.EnsureSchema(ctx, pool); err != nil {
			return err
		}

		rec = recorder.New(recorder.Config{
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			QueueSize:     cfg.Recorder.QueueSize,
		}, pool, logger.With("component", "recorder"))
		rec.Start(ctx)
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			rec.Stop(stopCtx)
		}()
		logger.Info("database connected")
	}

	// Connect to the native sidecar
	bridge := wsbridge.New(bridgeConfig(cfg.Bridge), logger.With("component", "bridge"))
	if err := bridge.Connect(ctx); err != nil {
		return fmt.Errorf("connect sidecar %s: %w", cfg.Bridge.URL, err)
	}
	defer bridge.Close()

	sessCfg, err := sessionConfig(cfg.Camera)
	if err != nil {
		return fmt.Errorf("camera config: %w", err)
	}
	var mgrOpts []session.Option
	if rec != nil {
		mgrOpts = append(mgrOpts, session.WithRecorder(rec))
	}
	mgr := session.NewManager(bridge, sessCfg, logger.With("component", "sessions"), mgrOpts...)

	if err := mgr.Init(ctx, cfg.Cloud.Host(), cfg.Cloud.ClientID, cfg.Cloud.AccessToken); err != nil {
		return fmt.Errorf("initialize camera library: %w", err)
	}
	defer func() {
		deinitCtx, deinitCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer deinitCancel()
		if err := mgr.Deinit(deinitCtx); err != nil {
			logger.Warn("deinit failed", "error", err)
		}
	}()

	// Reconcile cached session status with the native layer
	pollCfg := poller.DefaultConfig()
	pollCfg.Interval = cfg.Camera.StatusPollInterval
	poll := poller.New(pollCfg, mgr, reconcileDrift(mgr, logger), logger.With("component", "poller"))
	poll.Start(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer stopCancel()
		poll.Stop(stopCtx)
	}()

	// Start health server early so session startup can be observed
	var db pinger
	if pool != nil {
		db = pool
	}
	healthServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Health.Port),
		Handler: createHealthHandler(mgr, bridge, db, rec, poll, logger),
	}

	go func() {
		logger.Info("starting health server", "port", cfg.Health.Port)
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	if err := startSessions(ctx, mgr, cfg, logger); err != nil {
		logger.Error("failed to start sessions", "error", err)
	}

	logger.Info("camerad running",
		"instance_id", cfg.Instance.ID,
		"health_url", fmt.Sprintf("http://localhost:%d/health", cfg.Health.Port),
	)

	// Wait for shutdown
	<-ctx.Done()

	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	healthServer.Shutdown(shutdownCtx)

	return nil
}

func bridgeConfig(c config.BridgeConfig) wsbridge.Config {
	return wsbridge.Config{
		URL:               c.URL,
		Token:             c.Token,
		UserAgent:         version.UserAgent(),
		RequestTimeout:    c.RequestTimeout,
		PingInterval:      c.PingInterval,
		PingTimeout:       c.PingTimeout,
		WriteTimeout:      c.WriteTimeout,
		BufferSize:        c.BufferSize,
		ReconnectBaseWait: c.ReconnectBaseWait,
		ReconnectMaxWait:  c.ReconnectMaxWait,
	}
}

func sessionConfig(c config.CameraConfig) (session.Config, error) {
	policy, err := queue.ParseDropPolicy(c.DropPolicy)
	if err != nil {
		return session.Config{}, err
	}
	reconnect := backoff.Policy{Floor: c.ReconnectMin, Ceiling: c.ReconnectMax}
	if err := reconnect.Validate(); err != nil {
		return session.Config{}, err
	}

	cfg := session.DefaultConfig()
	cfg.Backoff = reconnect
	cfg.Decode = decode.Config{
		QueueSize:     c.DecodeQueueSize,
		DropPolicy:    policy,
		FrameInterval: c.FrameInterval,
	}
	cfg.SubscriberQueueSize = c.SubscriberQueueSize
	cfg.SubscriberDropPolicy = policy
	return cfg, nil
}

func startOptions(s config.SessionConfig) (session.StartOptions, error) {
	qualities, err := s.ParsedQualities()
	if err != nil {
		return session.StartOptions{}, err
	}
	return session.StartOptions{
		Qualities:       qualities,
		PinCode:         s.PinCode,
		EnableAudio:     s.EnableAudio,
		EnableReconnect: s.Reconnect(),
		EnableRecord:    s.EnableRecord,
	}, nil
}

// startSessions creates and starts every configured camera. A camera that
// fails to start is logged and left to its own reconnect policy.
func startSessions(ctx context.Context, mgr *session.Manager, cfg *config.Config, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, sc := range cfg.Sessions {
		sc := sc
		opts, err := startOptions(sc)
		if err != nil {
			return fmt.Errorf("session %s: %w", sc.DeviceID, err)
		}

		sess, err := mgr.CreateSession(session.Descriptor{
			DeviceID:     sc.DeviceID,
			Model:        sc.Model,
			ChannelCount: sc.ChannelCount,
		})
		if err != nil {
			return fmt.Errorf("create session %s: %w", sc.DeviceID, err)
		}

		if _, err := sess.RegisterStatus(func(deviceID string, status session.Status) {
			logger.Info("camera status changed", "device_id", deviceID, "status", status)
		}, true); err != nil {
			return fmt.Errorf("register status %s: %w", sc.DeviceID, err)
		}

		g.Go(func() error {
			startCtx, cancel := context.WithTimeout(gctx, cfg.Camera.StartTimeout)
			defer cancel()
			if err := sess.Start(startCtx, opts); err != nil {
				logger.Warn("camera start failed", "device_id", sc.DeviceID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// reconcileDrift feeds status observed by the poller back into the session,
// so a status event lost on the sidecar link still triggers a reconnect.
func reconcileDrift(mgr *session.Manager, logger *slog.Logger) poller.DriftHandler {
	return poller.DriftHandlerFunc(func(deviceID string, cached, native session.Status) {
		logger.Warn("camera status out of sync", "device_id", deviceID, "cached", cached, "native", native)
		if err := mgr.ReconcileStatus(deviceID, native); err != nil {
			logger.Warn("reconcile status failed", "device_id", deviceID, "error", err)
		}
	})
}
