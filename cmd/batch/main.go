// Command batch runs one analytical operation and prints its result as
// JSON, or as a text report where a command offers one. The exit status
// reports the failure class.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/territorial-engagement/backend/internal/apperr"
	"github.com/territorial-engagement/backend/internal/engine"
	"github.com/territorial-engagement/backend/pkg/config"
	appLogger "github.com/territorial-engagement/backend/pkg/logger"
)

const usage = `usage: batch <command> [flags]

commands:
  kpi         headline indicators for a filter
  forecast    monthly activity forecast for a filter
  prioritize  distribute a target number of activities across municipalities
  predict     expected attendance of one planned activity
  backtest    hold out recent months and score every forecast model (--format text|json)
`

type command func(ctx context.Context, e *engine.Engine, args []string) (interface{}, error)

var commands = map[string]command{
	"kpi":        runKPI,
	"forecast":   runForecast,
	"prioritize": runPrioritize,
	"predict":    runPredict,
	"backtest":   runBacktest,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 1
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n%s", args[0], usage)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return apperr.ExitCode(err)
	}

	// stdout carries the result document
	output := cfg.Logging.OutputPath
	if output == "" || output == "stdout" {
		output = "stderr"
	}
	if err := appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, output); err != nil {
		fmt.Fprintf(stderr, "Failed to initialize logger: %v\n", err)
		return 1
	}
	defer appLogger.Sync()

	eng, err := engine.New(ctx, cfg)
	if err != nil {
		appLogger.Error("Failed to initialize engine", zap.Error(err))
		fmt.Fprintf(stderr, "%v\n", err)
		return apperr.ExitCode(err)
	}
	defer eng.Close()

	result, err := cmd(ctx, eng, args[1:])
	if err != nil {
		appLogger.Error("Batch command failed", zap.String("command", args[0]), zap.Error(err))
		fmt.Fprintf(stderr, "%s: %v\n", args[0], err)
		return apperr.ExitCode(err)
	}

	if err := writeResult(stdout, result); err != nil {
		fmt.Fprintf(stderr, "Failed to write result: %v\n", err)
		return 1
	}
	return 0
}

// textResult is printed as is instead of being encoded.
type textResult string

func writeResult(w io.Writer, result interface{}) error {
	if text, ok := result.(textResult); ok {
		_, err := io.WriteString(w, string(text))
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newFlagSet(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SortFlags = false
	return fs
}
