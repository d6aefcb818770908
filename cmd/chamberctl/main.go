package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type rootFlags struct {
	config   string
	timeout  time.Duration
	verbose  bool
	logFrame bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "chamberctl",
		Short: "Read and control an environmental test chamber",
		Long: `chamberctl talks to a Watlow F4T or Espec P300/SCP-220 chamber controller
described by a YAML configuration file. Results are printed as YAML.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := cmd.PersistentFlags()
	pf.StringVarP(&flags.config, "config", "c", "chamber.yaml", "chamber configuration file")
	pf.DurationVar(&flags.timeout, "timeout", time.Minute, "deadline of the whole command")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "log at debug level")
	pf.BoolVar(&flags.logFrame, "log-frame", false, "log every frame sent and received")

	cmd.AddCommand(
		newSampleCmd(flags),
		newStatusCmd(flags),
		newAlarmsCmd(flags),
		newLoopCmd(flags),
		newOperationCmd(flags),
		newProgramCmd(flags),
		newDateTimeCmd(flags),
		newProbeCmd(flags),
		newRawCmd(flags),
		newRegistersCmd(flags),
	)
	return cmd
}

// session is one command's chamber and deadline.
type session struct {
	cfg     *config.Config
	chamber *chamber.Chamber
	ctx     context.Context
	cancel  context.CancelFunc
	out     io.Writer
}

func (f *rootFlags) open(cmd *cobra.Command) (*session, error) {
	level := slog.LevelInfo
	if f.verbose || f.logFrame {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, err
	}
	var trace config.Logger
	if f.logFrame {
		trace = &debugAdapter{logger.With("chamber", cfg.Name)}
	}
	ch, err := config.Build(cfg, trace)
	if err != nil {
		return nil, err
	}
	logger.Debug("chamber configured", "name", cfg.Name, "controller", cfg.Controller, "address", cfg.Transport.Address)

	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	return &session{cfg: cfg, chamber: ch, ctx: ctx, cancel: cancel, out: cmd.OutOrStdout()}, nil
}

// run opens the chamber and calls fn with it.
func (f *rootFlags) run(fn func(s *session, args []string) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := f.open(cmd)
		if err != nil {
			return err
		}
		defer s.cancel()
		return fn(s, args)
	}
}

func (s *session) print(v any) error {
	enc := yaml.NewEncoder(s.out)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
