// Command demo wires appconfig -> a reference data provider -> the layout
// coordinator, and exposes a Prometheus /metrics endpoint, the way the
// teacher's cmd/server/main.go wires config -> hub -> HTTP mux. Unlike the
// teacher's server, the demo never terminates trades or holds account
// state: it is a minimal host process for the embeddable widget core.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/epic1st/oakview/configstore"
	"github.com/epic1st/oakview/internal/appconfig"
	"github.com/epic1st/oakview/internal/logging"
	"github.com/epic1st/oakview/internal/telemetry"
	"github.com/epic1st/oakview/layout"
	"github.com/epic1st/oakview/pane"
	"github.com/epic1st/oakview/provider/wsprovider"
	"github.com/epic1st/oakview/renderer"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(logging.Info)

	logger.Info("starting oakview demo host")

	prov := wsprovider.New(wsprovider.Config{
		WSURL:         cfg.ProviderWSURL,
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, logger)

	var store configstore.Store
	switch cfg.ConfigStoreBackend {
	case "redis":
		store = configstore.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	default:
		store = configstore.NewFileStore(cfg.ConfigStoreDir)
	}

	defaults := pane.Settings{
		Symbol:    cfg.DefaultSymbol,
		Interval:  cfg.DefaultInterval,
		ChartType: pane.Candlestick,
	}

	coordinator := layout.New(
		layout.Mode(cfg.DefaultLayout),
		defaults,
		func(paneID string) renderer.Renderer { return renderer.NewRecorder() },
		prov,
		store,
		cfg.ConfigStoreKey,
		cfg.ShowFormingBar,
		logger,
	)

	coordinator.Subscribe(func(ev layout.Event) {
		logger.Info("coordinator event",
			logging.Component(string(ev.Type)),
			logging.PaneID(ev.PaneID),
			logging.Symbol(ev.Symbol),
			logging.Interval(ev.Interval),
		)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := coordinator.Restore(ctx); err != nil {
		logger.Info("no persisted layout found, starting from defaults")
	}
	cancel()

	if cfg.TelemetryAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		go func() {
			logger.Info("telemetry endpoint listening")
			if err := http.ListenAndServe(cfg.TelemetryAddr, mux); err != nil {
				log.Printf("telemetry server stopped: %v", err)
			}
		}()
	}

	health := coordinator.HealthCheck()
	logger.Info("oakview demo ready", logging.Component("startup"))
	log.Printf("panes=%d provider_connected=%v mode=%s", health.PaneCount, health.ProviderConnected, health.Mode)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("shutting down")
	if err := coordinator.Flush(); err != nil {
		logger.Warn("failed to flush pending layout save")
	}
	if err := prov.Disconnect(); err != nil {
		logger.Warn("provider disconnect failed")
	}
}
