package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/eventkit/config"
	errs "github.com/vinayprograms/eventkit/errors"
	"github.com/vinayprograms/eventkit/logging"
	"github.com/vinayprograms/eventkit/state"
)

// Exit codes.
const (
	exitSuccess  = 0
	exitNotFound = 1
	exitError    = 2
)

var version = "dev"

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitSuccess
	case errs.Is(err, errs.ErrCodeNotFound):
		return exitNotFound
	default:
		return exitError
	}
}

// app holds state shared by all subcommands of one invocation.
type app struct {
	out        io.Writer
	configPath string
	jsonOutput bool

	cfg       *config.Config
	backend   state.Backend
	resources *config.Resources
}

func newRootCmd(out io.Writer) *cobra.Command {
	return newRootCmdWith(&app{out: out})
}

func newRootCmdWith(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "eventkit",
		Short:         "Inspect eventkit streams, projections, tasks and policies",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close(cmd.Context())
		},
	}
	root.SetOut(a.out)
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default: eventkit.toml or ~/.config/eventkit/eventkit.toml)")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "print JSON")

	root.AddCommand(
		newStreamsCmd(a),
		newProjectionsCmd(a),
		newTasksCmd(a),
		newPoliciesCmd(a),
		newConfigCmd(a),
		newVersionCmd(a),
	)
	return root
}

func (a *app) loadConfig() error {
	if a.cfg != nil {
		return nil
	}
	var err error
	if a.configPath != "" {
		a.cfg, err = config.Load(a.configPath)
	} else {
		a.cfg, _, err = config.LoadDefault()
	}
	return err
}

// store opens the configured backend once per invocation.
func (a *app) store(ctx context.Context) (state.Backend, error) {
	if a.backend != nil {
		return a.backend, nil
	}
	logger := a.cfg.Logger().WithComponent("cli")
	logger.SetLevel(logging.LevelWarn)
	r, err := a.cfg.Open(ctx, logger)
	if err != nil {
		return nil, err
	}
	a.resources = r
	a.backend = r.Backend
	return a.backend, nil
}

func (a *app) close(ctx context.Context) error {
	if a.resources == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := a.resources.Close(ctx)
	a.resources = nil
	a.backend = nil
	return err
}

func (a *app) printJSON(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonOutput {
				return a.printJSON(map[string]string{"version": version})
			}
			a.printf("eventkit %s\n", version)
			return nil
		},
	}
}
