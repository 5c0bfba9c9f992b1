// cmd/chaos/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"bibliopanel/internal/chaos"
	"bibliopanel/internal/logger"
)

func main() {
	pause := flag.Duration("pause", 30*time.Second, "Wait between experiments")
	sample := flag.Duration("sample", time.Second, "Metric sampling interval")
	maxDuration := flag.Duration("max-duration", 0, "Cap on each experiment's observation window")
	level := flag.String("log-level", "info", "Log level")
	report := flag.Bool("json", false, "Print the results as JSON")
	flag.Parse()

	logger.Initialize(*level, "text")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	engine := chaos.NewEngine(
		chaos.WithPause(*pause),
		chaos.WithSampleInterval(*sample),
		chaos.WithMaxDuration(*maxDuration),
	)
	engine.RegisterExperiments()

	gameDay := chaos.GameDay{
		Name:      "Circulation Chaos Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	}

	results, err := engine.ExecuteGameDay(ctx, gameDay)
	if err != nil {
		log.Fatalf("Chaos Game Day failed: %v", err)
	}
	if *report {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(results); err != nil {
			log.Fatalf("encode results: %v", err)
		}
	}
	for _, r := range results {
		if !r.HypothesisHeld {
			os.Exit(1)
		}
	}
	if len(results) != len(gameDay.Scenarios) {
		os.Exit(1)
	}
}
