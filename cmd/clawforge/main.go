// Command clawforge runs the client-side governance engine as a
// standalone process for local development and smoke-testing; in
// production the five components it wires here are constructed in-process
// inside the host assistant runtime, which invokes Enforcer.Authorize as a
// hook on its own call stack (spec.md §1).
//
// Grounded on the teacher's cmd/uag/main.go: resource setup, then
// control-plane managers, then background listeners launched with go,
// then an HTTP server, then signal-driven graceful shutdown. Replaces the
// teacher's gRPC connector plane (not part of this engine's scope) with
// the governance engine's own five components plus the debug server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/openclaw/clawforge/internal/audit"
	"github.com/openclaw/clawforge/internal/config"
	"github.com/openclaw/clawforge/internal/connfsm"
	"github.com/openclaw/clawforge/internal/controlplane"
	"github.com/openclaw/clawforge/internal/debugserver"
	"github.com/openclaw/clawforge/internal/domain"
	"github.com/openclaw/clawforge/internal/enforcer"
	"github.com/openclaw/clawforge/internal/heartbeat"
	"github.com/openclaw/clawforge/internal/localmirror"
	"github.com/openclaw/clawforge/internal/metrics"
	"github.com/openclaw/clawforge/internal/session"
	"github.com/openclaw/clawforge/internal/state"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := newLogger(cfg.Logger)
	defer logger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Shared state, leaves first per spec.md §2's dependency order.
	enforcerState := state.New()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	controlPlaneConfigured := cfg.ControlPlaneURL != ""

	var cpClient *controlplane.Client
	if controlPlaneConfigured {
		cpClient = controlplane.New(cfg.ControlPlaneURL, logger)
	}

	// 2. AuditPipeline — buffers and ships audit events. Constructed
	// before ConnectionFSM since the FSM needs it as an audit sink.
	auditPipeline := audit.New(audit.Config{
		BatchSize:              cfg.Audit.BatchSize,
		FlushInterval:          cfg.AuditFlushInterval(),
		MaxBufferSize:          cfg.Audit.MaxBufferSize,
		BufferPath:             cfg.AuditBufferPath(),
		OrgID:                  cfg.OrgID,
		AuditLevel:             domain.AuditFull,
		ControlPlaneConfigured: controlPlaneConfigured,
	}, cpClient, met, logger)

	// 3. ConnectionFSM — pure, no I/O.
	fsm := connfsm.New(cfg.Heartbeat.FailureThreshold, auditPipeline, met, logger)

	// 4. Enforcer — the hot path.
	eng := enforcer.New(enforcerState, auditPipeline, logger).WithGauges(met)

	// 5. Heartbeat — periodic control-plane poll.
	mirror := localmirror.New(cfg.LocalMirror.RedisAddr, cfg.LocalMirror.Channel, enforcerState, logger)

	var hb *heartbeat.Heartbeat
	if controlPlaneConfigured {
		hb = heartbeat.New(heartbeat.Config{
			Interval:         cfg.HeartbeatInterval(),
			FailureThreshold: cfg.Heartbeat.FailureThreshold,
			OfflineMode:      domain.OfflineMode(cfg.Offline.Mode),
			OrgID:            cfg.OrgID,
		}, cpClient, fsm, enforcerState, auditPipeline, met, nil, logger)
		if mirror.Enabled() {
			hb = hb.WithMirror(func(ks domain.KillSwitchState, override domain.OfflineOverride) {
				mirror.Publish(appCtx, ks, override)
			})
		}
	}

	// 6. SessionKeeper — proactive token refresh, fanning out to Audit and
	// Heartbeat via UpdateAccessToken.
	initialSession, err := session.Load(cfg.SessionStorePath())
	if err != nil {
		logger.Warn("failed to load session from disk, starting unauthenticated", zap.Error(err))
	}
	var sessionTokens *domain.SessionTokens
	if initialSession != nil {
		sessionTokens = &domain.SessionTokens{
			AccessToken: initialSession.AccessToken, RefreshToken: initialSession.RefreshToken,
			ExpiresAtMs: initialSession.ExpiresAtMs, UserID: initialSession.UserID, OrgID: initialSession.OrgID,
		}
		auditPipeline.UpdateAccessToken(sessionTokens.AccessToken)
		if cpClient != nil {
			cpClient.UpdateAccessToken(sessionTokens.AccessToken)
		}
	}

	keeper := session.New(sessionTokens, cfg.SessionStorePath(), controlPlaneConfigured, cpClient,
		func(next *domain.SessionTokens) {
			auditPipeline.UpdateAccessToken(next.AccessToken)
			if cpClient != nil {
				cpClient.UpdateAccessToken(next.AccessToken)
			}
			if hb != nil {
				hb.UpdateAccessToken(next.AccessToken)
			}
		}, logger).WithGauges(met)

	// 8. Debug server, bound to localhost only.
	dbg := debugserver.New(fsm, enforcerState, auditPipeline, logger)

	// 9. Start all background tasks. The three periodic tasks are each
	// individually cancellable (spec.md §9's "one task per role"); the two
	// HTTP listeners are coordinated with an errgroup so a startup failure
	// in either one is observed rather than silently swallowed in a bare
	// goroutine.
	auditPipeline.Start()
	keeper.Start()
	if hb != nil {
		hb.Start()
	}
	mirror.Start(appCtx)

	var debugSrv *http.Server
	var srvGroup errgroup.Group
	if cfg.DebugServer.Enabled {
		debugSrv = &http.Server{Addr: cfg.DebugServer.Addr, Handler: dbg}
		srvGroup.Go(func() error {
			logger.Info("debug server listening", zap.String("addr", cfg.DebugServer.Addr))
			if err := debugSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		})
	}

	metricsSrv := &http.Server{Addr: "127.0.0.1:9464", Handler: promHandler(reg)}
	srvGroup.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	go func() {
		if err := srvGroup.Wait(); err != nil {
			logger.Error("an HTTP listener stopped unexpectedly", zap.Error(err))
		}
	}()

	_ = eng // the host assistant runtime calls eng.Authorize on its own hot path

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("clawforge engine stopping")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	cancel() // stop mirror's context-bound loop
	mirror.Stop()
	if hb != nil {
		hb.Stop()
	}
	keeper.Stop()
	auditPipeline.Stop() // performs one final flush, per spec.md §5

	if debugSrv != nil {
		_ = debugSrv.Shutdown(shutdownCtx)
	}
	_ = metricsSrv.Shutdown(shutdownCtx)

	logger.Info("clawforge engine exited cleanly")
}

func promHandler(reg *prometheus.Registry) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return mux
}

func newLogger(cfg config.LoggerConfig) *zap.Logger {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zcfg.Level = lvl
	}
	logger, err := zcfg.Build()
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	return logger
}
