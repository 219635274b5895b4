package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tphakala/magtest/cmd"
	"github.com/tphakala/magtest/internal/conf"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/telemetry"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	settings, err := conf.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		return 1
	}

	if paths, err := conf.GetDefaultConfigPaths(); err == nil {
		systemID, err := telemetry.LoadOrCreateSystemID(paths[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v\n", err)
		}
		if err := telemetry.InitSentry(&settings.Telemetry.Sentry, telemetry.Options{
			SystemID: systemID,
			Version:  version,
		}); err != nil {
			fmt.Fprintf(os.Stderr, "warning: telemetry disabled: %v\n", err)
		}
	}
	defer telemetry.Shutdown(2 * time.Second)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := cmd.RootCommand(settings, version)
	err = root.ExecuteContext(ctx)
	if cerr := logger.Global().Close(); cerr != nil {
		fmt.Fprintf(os.Stderr, "error closing logger: %v\n", cerr)
	}
	if err != nil {
		return 1
	}
	return 0
}
