// Copyright (C) 2024 right-sizer contributors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aiops-engine/anomaly"
	"aiops-engine/api"
	"aiops-engine/audit"
	"aiops-engine/config"
	"aiops-engine/demoservice"
	"aiops-engine/events"
	"aiops-engine/health"
	"aiops-engine/ingest"
	"aiops-engine/logger"
	"aiops-engine/metrics"
	"aiops-engine/model"
	"aiops-engine/rca"
	"aiops-engine/scheduler"
	"aiops-engine/simulate"
	"aiops-engine/telemetry"

	"go.uber.org/zap"
)

const (
	serviceName   = "aiops-demo-service"
	shutdownGrace = 10 * time.Second
)

func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel)
	logger.Info("aiops-engine starting, tick interval %s, server port %d", cfg.TickInterval, cfg.ServerPort)

	zapLog, err := zap.NewProduction()
	if err != nil {
		logger.Error("failed to build structured logger, falling back to no-op: %v", err)
		zapLog = zap.NewNop()
	}
	defer zapLog.Sync() //nolint:errcheck

	store := telemetry.New()
	analyzer := anomaly.New(store, cfg)
	rcaEngine := rca.New(store, cfg, zapLog)
	sched := scheduler.New(analyzer, rcaEngine, cfg.TickInterval)
	injector := simulate.NewInjector()

	bus := events.NewEventBus(256)
	defer bus.Stop()
	stream := events.NewStream(bus, events.DefaultStreamConfig())

	engineMetrics := metrics.NewEngineMetrics()

	auditCfg := audit.DefaultConfig()
	auditCfg.LogPath = envOr("AIOPS_AUDIT_LOG_PATH", auditCfg.LogPath)
	auditLog, err := audit.New(auditCfg)
	if err != nil {
		logger.Warn("audit logger disabled, could not open log file: %v", err)
		auditLog = nil
	} else {
		defer auditLog.Close() //nolint:errcheck
	}

	checker := health.NewChecker(cfg.TickInterval)

	sched.OnTick(func(tick anomaly.Tick, created []*rca.Incident) {
		checker.RecordTick(tick.Timestamp)

		for _, a := range tick.Anomalies {
			engineMetrics.RecordAnomaly(string(a.Kind), a.Endpoint)
			msg := fmt.Sprintf("%s detected on %s", a.Kind, a.Endpoint)
			bus.PublishAsync(events.NewEvent(anomalyEventType(a.Kind), a.Endpoint, a.Severity, msg))
		}

		for _, inc := range created {
			engineMetrics.RecordIncidentCreated(string(inc.Severity))
			if auditLog != nil {
				auditLog.LogIncidentCreated(inc.ID, inc.RootCause.Endpoint, string(inc.Severity))
				engineMetrics.RecordAuditEntry("incident_created")
			}
			bus.PublishAsync(events.NewEvent(events.EventIncidentCreated, inc.RootCause.Endpoint, inc.Severity, inc.Title).
				WithIncidentID(inc.ID))
		}

		active := len(rcaEngine.GetActiveIncidents())
		engineMetrics.SetActiveIncidents(active)
	})

	instrumentation := ingest.New(serviceName, store, injector)
	demo := demoservice.New(fmt.Sprintf("http://127.0.0.1:%d", cfg.ServerPort), engineMetrics)

	apiServer := api.NewServer(cfg, store, analyzer, rcaEngine, sched, injector, bus, stream, auditLog, checker, engineMetrics)

	mux := http.NewServeMux()
	mux.HandleFunc("/payment", instrumentation.Wrap("/payment", demo.Payment))
	mux.HandleFunc("/inventory", instrumentation.Wrap("/inventory", demo.Inventory))
	mux.HandleFunc("/checkout", instrumentation.Wrap("/checkout", demo.Checkout))
	mux.HandleFunc("/health", demo.Health)
	mux.Handle("/", apiServer.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sched.Run(ctx)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.ServerPort),
		Handler: mux,
	}

	go func() {
		logger.Info("listening on :%d", cfg.ServerPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server stopped unexpectedly: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed: %v", err)
	}
}

func anomalyEventType(kind model.AnomalyKind) events.EventType {
	switch kind {
	case model.KindLatency:
		return events.EventAnomalyLatency
	case model.KindError:
		return events.EventAnomalyError
	default:
		return events.EventAnomalySilence
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
