package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hackreg/internal/theme/service"
	"hackreg/internal/theme/syncclient"
	"hackreg/pkg/utils/logger"

	"go.uber.org/zap"
)

func main() {
	baseURL := flag.String("server", "http://127.0.0.1:8086", "Theme service base URL")
	interval := flag.Duration("interval", syncclient.DefaultPollInterval, "Poll interval, clamped to 5s-10s")
	timeout := flag.Duration("timeout", 3*time.Second, "Per-request timeout")
	level := flag.String("log-level", "warn", "Log level")
	flag.Parse()

	if err := logger.Init(logger.Config{Level: *level, Format: "console", OutputPath: "stderr", ErrorPath: "stderr"}); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poller := syncclient.NewPoller(syncclient.New(*baseURL, *timeout), syncclient.PollerConfig{
		Interval: *interval,
		OnUpdate: printUpdate,
	})
	logger.Info(ctx, "watching themes", zap.String("server", *baseURL), zap.Duration("interval", poller.Interval()))
	_ = poller.Run(ctx)
}

func printUpdate(result service.PollResult) {
	snapshot := result.Snapshot
	lock := "open"
	if snapshot.SelectionLocked {
		lock = "locked"
	}
	fmt.Printf("[%s] version %s, selection %s\n", snapshot.GeneratedAt.Local().Format(time.TimeOnly), snapshot.Version, lock)

	if result.Delta != nil {
		for _, theme := range result.Delta.Added {
			fmt.Printf("  + %-16s %2d/%-2d %s\n", theme.Name, theme.Occupancy, theme.Capacity, theme.Status)
		}
		for _, theme := range result.Delta.Changed {
			fmt.Printf("  ~ %-16s %2d/%-2d %s\n", theme.Name, theme.Occupancy, theme.Capacity, theme.Status)
		}
		for _, id := range result.Delta.Removed {
			fmt.Printf("  - theme %d\n", id)
		}
		return
	}
	for _, theme := range snapshot.Themes {
		marker := " "
		if !theme.Available {
			marker = "x"
		}
		fmt.Printf("  %s %-16s %2d/%-2d %s\n", marker, theme.Name, theme.Occupancy, theme.Capacity, theme.Status)
	}
}
