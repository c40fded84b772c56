// cmd/chaos/main.go
package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"lendingdesk/internal/chaos"
	"lendingdesk/internal/telemetry"
	"lendingdesk/internal/util"
)

func main() {
	logger := util.InitLogger(getEnv("LOG_LEVEL", "info"))
	ctx := context.Background()

	shutdown, err := telemetry.Setup(ctx, "lendingdesk-chaos", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		logger.Error("set up tracing", "error", err)
		os.Exit(1)
	}
	defer shutdown(ctx)

	desk := chaos.NewDesk(logger, time.Second)
	engine := chaos.NewEngine(logger)
	engine.RegisterExperiments(desk)

	gameDay := chaos.GameDay{
		Name:      "Lending Desk Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     time.Second,
	}

	results, err := engine.ExecuteGameDay(ctx, gameDay)
	if err != nil {
		logger.Error("chaos game day failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.Encode(results)

	if len(results) < len(gameDay.Scenarios) {
		os.Exit(1)
	}
	for _, r := range results {
		if !r.HypothesisHeld {
			os.Exit(1)
		}
	}
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}
