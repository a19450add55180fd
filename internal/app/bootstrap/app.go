package bootstrap

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/rvenes/MeshVenes-sub000/internal/admin"
	"github.com/rvenes/MeshVenes-sub000/internal/api"
	"github.com/rvenes/MeshVenes-sub000/internal/api/middleware"
	"github.com/rvenes/MeshVenes-sub000/internal/app"
	cfgpkg "github.com/rvenes/MeshVenes-sub000/internal/config"
	"github.com/rvenes/MeshVenes-sub000/internal/health"
	"github.com/rvenes/MeshVenes-sub000/internal/httpserver"
	"github.com/rvenes/MeshVenes-sub000/internal/metrics"
	"github.com/rvenes/MeshVenes-sub000/internal/radio"
	"github.com/rvenes/MeshVenes-sub000/internal/reconnect"
	"github.com/rvenes/MeshVenes-sub000/internal/transport/ble"
)

const shutdownTimeout = 10 * time.Second

// Run 统一启动流程，阻塞到收到 SIGINT/SIGTERM
func Run(cfg *cfgpkg.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("starting mesh link daemon", zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	// ========== 阶段1: 指标与存储 ==========
	reg := metrics.NewRegistry()
	linkm := metrics.NewLinkMetrics(reg)

	rdb, err := app.NewRedisClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Error("redis initialization failed", zap.Error(err))
		return err
	}
	var universal redis.UniversalClient
	if rdb != nil {
		defer rdb.Close()
		universal = rdb
	}

	pg, err := openPostgres(ctx, cfg, log)
	if err != nil {
		log.Error("postgres initialization failed", zap.Error(err))
		return err
	}
	if pg != nil {
		defer pg.Close()
	}

	store, err := app.NewEndpointStore(ctx, cfg.Endpoints, universal, pg)
	if err != nil {
		return err
	}
	log.Info("endpoint store ready", zap.String("kind", cfg.Endpoints.Store))

	// ========== 阶段2: 链路、管理协议与重连 ==========
	var adapter ble.Adapter
	if cfg.Link.BLE.Enable {
		adapter = ble.NewTinyGoAdapter(log.Named("ble"))
	}
	factory := app.NewTransports(cfg.Link, adapter, linkm, log)

	sess := radio.NewSession(factory,
		radio.WithEndpointStore(store),
		radio.WithLogger(log.Named("radio")),
		radio.WithObserver(linkm.Observer("radio")),
		radio.WithRateLimit(cfg.Link.Rate, cfg.Link.Burst),
		radio.WithHeartbeat(cfg.Link.Heartbeat),
		radio.WithAdminChannel(cfg.Link.AdminChannel),
	)
	sess.OnConnectionChanged(linkm.SetLinkUp)
	sess.OnText(func(from uint32, text string) {
		log.Info("text message received", zap.Uint32("from", from), zap.Int("len", len(text)))
	})

	orch := reconnect.New(sess, store,
		reconnect.WithTimings(reconnect.Timings{
			Delay:          cfg.Reconnect.Delay,
			Rounds:         cfg.Reconnect.Rounds,
			WatchInterval:  cfg.Reconnect.WatchInterval,
			WatchWindow:    cfg.Reconnect.WatchWindow,
			ConnectTimeout: cfg.Reconnect.ConnectTimeout,
		}),
		reconnect.WithLogger(log.Named("reconnect")),
		reconnect.WithObserver(linkm.Observer("reconnect")),
	)
	orch.OnStatus(func(line string) {
		sess.AddSystemLog(line)
		linkm.ReconnectState.Set(float64(orch.State()))
	})

	adminOpts := []admin.Option{
		admin.WithTimeout(cfg.Admin.Timeout),
		admin.WithSerializedSaves(cfg.Admin.SerializeSaves),
		admin.WithLogger(log.Named("admin")),
		admin.WithObserver(linkm.Observer("admin")),
	}
	if cfg.Admin.Watchdog {
		adminOpts = append(adminOpts, admin.WithSaveHook(func(node uint32) {
			if orch.StartPostSaveWatchdog(ctx) {
				log.Info("post-save watchdog started", zap.Uint32("node", node))
			}
		}))
	}
	adm := admin.NewClient(sess, adminOpts...)
	sess.SetAdminSink(adm)
	log.Info("link components initialized",
		zap.Bool("ble", cfg.Link.BLE.Enable),
		zap.Bool("serialize_saves", cfg.Admin.SerializeSaves))

	// ========== 阶段3: HTTP ==========
	agg := health.NewAggregator(health.NewLinkChecker(sess, func() bool {
		switch orch.State() {
		case reconnect.StateDisconnecting, reconnect.StateWaiting, reconnect.StateTrying:
			return true
		}
		return false
	}))
	if rdb != nil {
		agg.AddChecker(health.NewRedisChecker(rdb))
	}
	if pg != nil {
		agg.AddChecker(health.NewPostgresChecker(pg))
	}

	metricsPath := cfg.Metrics.Path
	var metricsHandler = metrics.Handler(reg)
	if !cfg.Metrics.Enable {
		metricsHandler = nil
	}
	httpSrv := httpserver.New(cfg.HTTP, metricsPath, metricsHandler, sess.IsConnected)
	handler := api.NewHandler(ctx, sess, adm, orch, log.Named("api"))
	httpSrv.Register(func(r *gin.Engine) {
		health.RegisterHTTPRoutes(r, agg)
		api.RegisterRoutes(r, handler, middleware.AuthConfig{
			Enabled: cfg.API.Auth.Enabled,
			APIKeys: cfg.API.Auth.APIKeys,
		}, log.Named("api"))
	})

	go func() {
		if err := httpSrv.Start(); err != nil {
			log.Error("http server error", zap.Error(err))
			stop()
		}
	}()
	log.Info("http server started", zap.String("addr", cfg.HTTP.Addr))

	// ========== 阶段4: 首次连接（失败不阻止启动，可经控制接口重试）==========
	if ep, err := app.InitialConnect(ctx, sess, cfg.Link, store, log); err != nil {
		log.Warn("no device link at startup", zap.Error(err))
	} else {
		log.Info("device link established", zap.String("endpoint", ep.String()))
	}

	// ========== 阶段5: 等待关闭信号 ==========
	<-ctx.Done()
	log.Info("received shutdown signal, gracefully shutting down...")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(sctx); err != nil {
		log.Warn("http shutdown failed", zap.Error(err))
	}
	if err := sess.Disconnect(); err != nil {
		log.Warn("link disconnect failed", zap.Error(err))
	}
	orch.Wait()

	log.Info("shutdown complete")
	return nil
}

// openPostgres 仅当端点存储选用 postgres 时建立连接池
func openPostgres(ctx context.Context, cfg *cfgpkg.Config, log *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.Endpoints.Store != "postgres" {
		return nil, nil
	}
	pool, err := app.NewPostgresPool(ctx, cfg.Database, log.Named("pg"))
	if err != nil {
		return nil, err
	}
	log.Info("postgres pool initialized", zap.Int("max_open_conns", cfg.Database.MaxOpenConns))
	return pool, nil
}
