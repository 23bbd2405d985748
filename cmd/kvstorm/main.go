// Package main is the entry point for kvstorm.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kvstorm/internal/fault"
	"kvstorm/internal/logger"
	_ "kvstorm/internal/store/memstore"
	_ "kvstorm/internal/store/redisstore"
)

var (
	version = "dev"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func newRootCmd() *cobra.Command {
	var logLevel, logFormat string

	root := &cobra.Command{
		Use:           "kvstorm",
		Short:         "Saturating load and fault injection for a distributed transactional KV store",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return logger.Configure(logLevel, logFormat)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")

	root.AddCommand(
		newRunCmd(),
		newFaultCmd(),
		newStatusCmd(),
		newSweepCmd(),
		newPresetsCmd(),
		newUnitCmd(),
	)
	return root
}

// exitCode は終了コードを決める
// 中断は正常終了、フェーズの失敗は 2、それ以外のエラーは 1
func exitCode(err error) int {
	if err == nil || errors.Is(err, context.Canceled) {
		return 0
	}

	var phaseErr *fault.PhaseError
	if errors.As(err, &phaseErr) {
		logger.Error("", "Fault episode failed in %s phase: %v", phaseErr.Phase, phaseErr.Err)
		return 2
	}
	logger.Error("", "%v", err)
	return 1
}

func printBanner(title string) {
	fmt.Println("kvstorm - " + title)
	fmt.Println("====================================================")
}
