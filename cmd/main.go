// Loanflow Server
//
// Standalone HTTP server for the loan-origination conversation engine.
// Serves the chat endpoint, generated sanction-letter resources, health
// and Prometheus metrics.
//
// Usage:
//
//	go run ./cmd/main.go                    # Default :8080
//	go run ./cmd/main.go -addr :9090        # Custom port
//	go build -o loanflow ./cmd && ./loanflow
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/nbfc-labs/loanflow/coreengine/config"
	"github.com/nbfc-labs/loanflow/coreengine/httpapi"
	"github.com/nbfc-labs/loanflow/coreengine/observability"
	"github.com/nbfc-labs/loanflow/coreengine/oracle"
	"github.com/nbfc-labs/loanflow/coreengine/orchestrator"
	"github.com/nbfc-labs/loanflow/coreengine/session"
	"github.com/nbfc-labs/loanflow/coreengine/tools"
	"github.com/nbfc-labs/loanflow/coreengine/workers"
	"github.com/nbfc-labs/loanflow/eventbus"
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

func main() {
	// .env is optional; environment wins over file values
	_ = godotenv.Load()

	addr := flag.String("addr", "", "HTTP server address (overrides config)")
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	logger := &stdLogger{}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *addr != "" {
		cfg.HTTPAddr = *addr
	}

	logger.Info("loanflow_starting", "version", "1.0.0", "address", cfg.HTTPAddr)

	// Tracing is only wired when an OTLP endpoint is configured
	if cfg.OTLPEndpoint != "" {
		shutdown, err := observability.InitTracer("loanflow", cfg.OTLPEndpoint)
		if err != nil {
			logger.Warn("tracer_init_failed", "error", err.Error())
		} else {
			defer func() {
				_ = shutdown(context.Background())
			}()
			logger.Info("tracer_initialized", "endpoint", cfg.OTLPEndpoint)
		}
	}

	store, err := tools.NewResourceStore(cfg.StorageDir)
	if err != nil {
		log.Fatalf("Failed to create resource store: %v", err)
	}

	executor := tools.NewExecutor(cfg.ToolTimeoutDuration(), logger)
	if err := tools.RegisterLoanTools(executor, store); err != nil {
		log.Fatalf("Failed to register tools: %v", err)
	}
	logger.Info("tools_registered", "count", len(executor.List()))

	bus := eventbus.NewInMemoryBus()
	bus.AddMiddleware(eventbus.NewLoggingMiddleware())

	orch, err := orchestrator.New(workers.Deps{
		Oracle: oracle.NewScriptedPolicy(),
		Tools:  executor,
		Logger: logger,
		Events: bus,
		Config: cfg,
	})
	if err != nil {
		log.Fatalf("Failed to build orchestrator: %v", err)
	}

	sessions := session.NewStore(orch,
		session.WithLogger(logger),
		session.WithEvents(bus),
		session.WithPersistence(session.NewMemoryPersistence()),
	)

	server := httpapi.NewServer(sessions, store, logger, cfg.TurnTimeoutDuration())

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	logger.Info("loanflow_ready", "address", cfg.HTTPAddr)
	fmt.Printf("\nLoanflow server running on %s\n", cfg.HTTPAddr)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.ListenAndServe(ctx, cfg.HTTPAddr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	logger.Info("loanflow_stopped")
}
