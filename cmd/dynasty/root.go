package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"dynastycore/internal/config"
	"dynastycore/internal/core"
)

// app holds the state shared by every subcommand for one invocation.
type app struct {
	out      io.Writer
	errOut   io.Writer
	flags    *config.FlagSet
	callerID string

	cfg    config.Config
	logger *slog.Logger
	rt     *runtime
}

// execute runs one CLI invocation and releases the runtime even when the
// command fails.
func execute(ctx context.Context, args []string, out, errOut io.Writer) error {
	root, a := newRootCmd(out, errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := a.close(ctx); err == nil {
		err = cerr
	}
	return err
}

func newRootCmd(out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{out: out, errOut: errOut}
	root := &cobra.Command{
		Use:           "dynasty",
		Short:         "Dynasty keeps family relationship graphs consistent",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "version" {
				return nil
			}
			return a.open(cmd)
		},
	}
	root.SetOut(out)
	root.SetErr(errOut)
	a.flags = config.BindFlags(root.PersistentFlags())
	root.PersistentFlags().StringVar(&a.callerID, "caller", "", "member id performing the operation")

	root.AddCommand(
		newServeCmd(a),
		newTreeCmd(a),
		newMemberCmd(a),
		newRelateCmd(a),
		newInviteCmd(a),
		newAdminCmd(a),
		newVersionCmd(a),
	)
	return root, a
}

func (a *app) open(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Options{File: a.flags.File(), Flags: a.flags})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.cfg = cfg
	a.logger = cfg.Log.NewLogger(a.errOut)
	rt, err := openRuntime(cmd.Context(), cfg, a.logger)
	if err != nil {
		return err
	}
	a.rt = rt
	return nil
}

func (a *app) close(ctx context.Context) error {
	if a.rt == nil {
		return nil
	}
	err := a.rt.Close(ctx)
	a.rt = nil
	return err
}

func (a *app) svc() *core.Service { return a.rt.svc }

// print writes v as indented JSON.
func (a *app) print(v any) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult writes v and reports rule warnings on stderr.
func (a *app) printResult(v any, res core.Result) error {
	for _, w := range res.Violations {
		fmt.Fprintf(a.errOut, "warning: %s: %s\n", w.Rule, w.Message)
	}
	return a.print(v)
}

func (a *app) requireCaller() (string, error) {
	if a.callerID == "" {
		return "", errors.New("--caller is required")
	}
	return a.callerID, nil
}
