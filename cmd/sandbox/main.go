// Command sandbox validates an ObjectiveAI function against a locally
// supervised API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/config"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/execution"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/function"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/harness"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/logging"
	"github.com/ObjectiveAI/objectiveai-function-sandbox/internal/supervisor"
)

// errChecksFailed is returned when the run completed but a check failed.
// The report already explains why, so it is not printed again.
var errChecksFailed = errors.New("some checks failed")

var rootCmd = &cobra.Command{
	Use:   "sandbox",
	Short: "Validate an ObjectiveAI function against a local API server",
	Long: `Starts the ObjectiveAI API server, then validates function.json,
profile.json and inputs.json in the working directory: schema checks,
local compilation against the expected compiled tasks, the vector
split/merge round trip, and live execution of every example input.

Set ONLY_SET_IF_YOU_KNOW_WHAT_YOURE_DOING to use an already-running server.`,
	Args:          cobra.NoArgs,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context(), cmd.OutOrStdout())
	},
}

func main() {
	os.Exit(execute())
}

func execute() int {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var received atomic.Value
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			received.Store(sig)
			logging.Boot("received %v, shutting down", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	err := rootCmd.ExecuteContext(ctx)

	sig, _ := received.Load().(os.Signal)
	if err != nil && !errors.Is(err, errChecksFailed) && sig == nil {
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode(err, sig)
}

// exitCode maps the outcome of a run to the process exit status. An
// interrupt wins over everything else.
func exitCode(err error, sig os.Signal) int {
	switch sig {
	case syscall.SIGINT:
		return 130
	case syscall.SIGTERM:
		return 143
	}
	if err != nil {
		return 1
	}
	return 0
}

func run(ctx context.Context, out io.Writer) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	if err := config.LoadDotEnv(".env"); err != nil {
		return err
	}
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := logging.Initialize(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	}); err != nil {
		return err
	}
	defer logging.Sync()

	sup := supervisor.New(supervisor.FromConfig(cfg))
	handle, err := sup.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to start api server: %w", err)
	}
	defer func() {
		if rerr := sup.Release(handle); rerr != nil {
			logging.SupervisorWarn("release: %v", rerr)
		}
	}()
	logging.Boot("api server at %s (managed=%v)", handle.BaseURL, handle.Managed())

	fixtures := harness.LoadFixtures(cfg.Fixtures.Function, cfg.Fixtures.Profile, cfg.Fixtures.Inputs)
	client := execution.NewClient(handle.BaseURL,
		execution.WithExecutePath(cfg.API.ExecutePath),
		execution.WithTimeout(cfg.GetAPITimeout()),
	)
	h := harness.New(function.NewCompiler(), client, harness.Options{
		MinInputs: cfg.Harness.MinInputs,
		MaxInputs: cfg.Harness.MaxInputs,
		FromRNG:   cfg.Harness.FromRNG,
	})

	report := h.Run(ctx, fixtures)
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := harness.NewReporter(out, cfg.Report.Format).Report(report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if !report.Passed {
		return errChecksFailed
	}
	return nil
}
