// Command cancel_sweep cancels every working order for the configured
// universe. Manual escape hatch for when the quoter died without its
// shutdown sweep.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"ox-maker-go/config"
	"ox-maker-go/gateway"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML config")
	instrument := flag.String("instrument", "", "limit the sweep to one instrument")
	timeout := flag.Duration("timeout", 30*time.Second, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.LoadWithEnvOverrides(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	targets := cfg.Universe()
	if *instrument != "" {
		if _, ok := cfg.Instruments[*instrument]; !ok {
			fmt.Fprintf(os.Stderr, "instrument %s not in config\n", *instrument)
			os.Exit(1)
		}
		targets = []string{*instrument}
	}

	limiter := gateway.NewTokenBucketLimiter(cfg.Gateway.RestRate, cfg.Gateway.RestBurst)
	client := gateway.NewOXFunClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey, cfg.Gateway.APISecret, limiter)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	open, err := client.OpenOrders(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open orders: %v\n", err)
	} else {
		fmt.Printf("%d working orders before sweep\n", len(open))
	}

	failed := 0
	for _, inst := range targets {
		if err := client.CancelAll(ctx, inst); err != nil {
			failed++
			fmt.Fprintf(os.Stderr, "cancel-all %s: %v\n", inst, err)
			continue
		}
		fmt.Printf("cancelled all orders on %s\n", inst)
	}
	if failed > 0 {
		os.Exit(1)
	}
}
