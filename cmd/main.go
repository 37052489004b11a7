// Turnguard Server
//
// Standalone gRPC server for the turnguard reasoning engine. Serves the
// TurnService plus a Prometheus metrics endpoint, with optional OTLP
// tracing.
//
// Usage:
//
//	go run ./cmd -catalog catalog.json                 # Default :50051
//	go run ./cmd -addr :8080 -metrics-addr :9091
//	go build -o turnguard ./cmd && ./turnguard -catalog catalog.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayline/turnguard/commbus"
	"github.com/relayline/turnguard/engine/audit"
	"github.com/relayline/turnguard/engine/catalog"
	"github.com/relayline/turnguard/engine/config"
	enginegrpc "github.com/relayline/turnguard/engine/grpc"
	"github.com/relayline/turnguard/engine/intent"
	"github.com/relayline/turnguard/engine/llm"
	"github.com/relayline/turnguard/engine/observability"
	"github.com/relayline/turnguard/engine/orchestrator"
	"github.com/relayline/turnguard/engine/tools"
)

// stdLogger implements the engine Logger interfaces using standard library log.
type stdLogger struct{}

func (l *stdLogger) Debug(msg string, keysAndValues ...any) {
	log.Printf("[DEBUG] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Info(msg string, keysAndValues ...any) {
	log.Printf("[INFO] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Warn(msg string, keysAndValues ...any) {
	log.Printf("[WARN] %s %v", msg, keysAndValues)
}

func (l *stdLogger) Error(msg string, keysAndValues ...any) {
	log.Printf("[ERROR] %s %v", msg, keysAndValues)
}

// logEscalator surfaces escalations in the log. Production deployments
// replace it with a real handoff channel.
type logEscalator struct {
	logger *stdLogger
}

func (e *logEscalator) Escalate(ctx context.Context, esc *orchestrator.Escalation) error {
	e.logger.Warn("turn_escalated",
		"turn_id", esc.TurnID,
		"conversation_id", esc.ConversationID,
		"tenant_id", esc.TenantID,
		"reason", esc.Reason,
	)
	return nil
}

// catalogFile is the on-disk wiring format for one tenant.
type catalogFile struct {
	TenantID  string                `json:"tenant_id"`
	Actions   []*catalog.ActionSpec `json:"actions"`
	Knowledge map[string]any        `json:"knowledge,omitempty"`
}

func loadCatalog(path string) (*catalog.Catalog, *catalog.Knowledge, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read catalog file: %w", err)
	}
	var file catalogFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, nil, fmt.Errorf("parse catalog file: %w", err)
	}
	cat, err := catalog.New(file.TenantID, file.Actions...)
	if err != nil {
		return nil, nil, err
	}
	return cat, catalog.NewKnowledge(file.Knowledge), nil
}

func main() {
	addr := flag.String("addr", ":50051", "gRPC server address")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics address")
	catalogPath := flag.String("catalog", "catalog.json", "tenant catalog file")
	llmBaseURL := flag.String("llm-base-url", "http://localhost:8000", "OpenAI-compatible endpoint")
	llmModel := flag.String("llm-model", "gpt-4o-mini", "model name")
	otlpEndpoint := flag.String("otlp-endpoint", "", "OTLP trace endpoint (empty disables tracing)")
	flag.Parse()

	logger := &stdLogger{}
	logger.Info("turnguard_starting", "version", enginegrpc.Version, "address", *addr)

	cat, knowledge, err := loadCatalog(*catalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	logger.Info("catalog_loaded", "tenant_id", cat.TenantID(), "actions", len(cat.Names()))

	if *otlpEndpoint != "" {
		shutdown, err := observability.InitTracer("turnguard", enginegrpc.Version, *otlpEndpoint)
		if err != nil {
			log.Fatalf("Failed to init tracing: %v", err)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(ctx)
		}()
		logger.Info("tracing_enabled", "endpoint", *otlpEndpoint)
	}

	bus := commbus.NewInMemoryCommBus(30*time.Second, logger)
	bus.AddMiddleware(commbus.NewLoggingMiddleware(logger))

	intents := intent.NewMemoryStore()
	auditLog := audit.NewBusLog(audit.NewMemoryLog(), bus)
	gateway := llm.NewOpenAIGateway(*llmBaseURL, os.Getenv("TURNGUARD_LLM_API_KEY"), *llmModel)

	engine := orchestrator.New(config.DefaultEngineConfig(), orchestrator.Deps{
		Gateway:   gateway,
		Tools:     tools.NewExecutor(),
		Catalog:   cat,
		Knowledge: knowledge,
		Intents:   intents,
		Audit:     auditLog,
		Escalator: &logEscalator{logger: logger},
		Bus:       bus,
		Logger:    logger,
	})

	// Expired intents are dropped on access too; the sweeper just keeps the
	// map from accumulating dead conversations.
	sweepDone := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepDone:
				return
			case <-ticker.C:
				if removed := intents.Sweep(); removed > 0 {
					logger.Debug("intents_swept", "removed", removed)
				}
			}
		}
	}()

	metricsServer := &http.Server{Addr: *metricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info("metrics_listening", "addr", *metricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_stopped", "error", err.Error())
		}
	}()

	grpcServer, err := enginegrpc.Serve(*addr, enginegrpc.NewTurnServer(engine, cat, logger), logger)
	if err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}

	logger.Info("turnguard_ready", "address", *addr)
	fmt.Printf("\nTurnguard server running on %s\n", *addr)
	fmt.Println("Press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown_signal_received", "signal", sig.String())

	close(sweepDone)
	grpcServer.GracefulStop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info("turnguard_stopped")
}
