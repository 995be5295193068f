package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"mailsized/config"
)

// Runner holds the dependencies shared by command actions.
type Runner struct {
	logger     *slog.Logger
	output     io.Writer
	loadConfig func(path string) (*config.Config, error)
}

type RunnerOpts struct {
	Logger *slog.Logger
	Output io.Writer
	// LoadConfig replaces config.Load; tests use it to inject settings.
	LoadConfig func(path string) (*config.Config, error)
}

func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.LoadConfig == nil {
		opts.LoadConfig = config.Load
	}
	return &Runner{logger: opts.Logger, output: opts.Output, loadConfig: opts.LoadConfig}
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range []func(*Runner) *cli.Command{
		runCommand, resumeCommand, quoteCommand, initConfigCommand, stubCommand,
	} {
		commands = append(commands, fn(r))
	}
	return commands
}

func (r *Runner) config(cmd *cli.Command) (*config.Config, error) {
	cfg, err := r.loadConfig(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func (r *Runner) writePlain(format string, args ...any) {
	_, _ = fmt.Fprintf(r.output, format, args...)
}
