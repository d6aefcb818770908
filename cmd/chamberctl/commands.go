package main

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/config"
)

func newSampleCmd(flags *rootFlags) *cobra.Command {
	var opts chamber.SampleOptions
	cmd := &cobra.Command{
		Use:   "sample",
		Short: "Read the date, status and every loop in one session",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&opts.Alarms, "alarms", false, "include the alarm state")
	cmd.Flags().BoolVar(&opts.Operation, "operation", false, "include the operation and running program")
	cmd.Flags().BoolVar(&opts.Programs, "programs", false, "include the program list")
	cmd.RunE = flags.run(func(s *session, _ []string) error {
		opts.Events = s.cfg.Events
		sample, err := s.chamber.Sample(s.ctx, opts)
		if err != nil {
			return err
		}
		return s.print(sample)
	})
	return cmd
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the operating status",
		Args:  cobra.NoArgs,
		RunE: flags.run(func(s *session, _ []string) error {
			status, err := s.chamber.Status(s.ctx)
			if err != nil {
				return err
			}
			return s.print(map[string]chamber.Status{"status": status})
		}),
	}
}

func newAlarmsCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "alarms",
		Short: "Print the active and inactive alarms",
		Args:  cobra.NoArgs,
		RunE: flags.run(func(s *session, _ []string) error {
			alarms, err := s.chamber.Alarms(s.ctx)
			if err != nil {
				return err
			}
			return s.print(alarms)
		}),
	}
}

func newLoopCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loop",
		Short: "Read and write control loops",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get <loop> [field...]",
			Short: "Read loop fields, all of them when none are named",
			Args:  cobra.MinimumNArgs(1),
			RunE: flags.run(func(s *session, args []string) error {
				loop, err := s.chamber.Lookup(args[0])
				if err != nil {
					return err
				}
				v, err := s.chamber.GetLoop(s.ctx, loop, args[1:]...)
				if err != nil {
					return err
				}
				return s.print(v)
			}),
		},
		&cobra.Command{
			Use:   "set-setpoint <loop> <value>",
			Short: "Write the constant setpoint",
			Args:  cobra.ExactArgs(2),
			RunE: flags.run(func(s *session, args []string) error {
				loop, err := s.chamber.Lookup(args[0])
				if err != nil {
					return err
				}
				v, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return fmt.Errorf("setpoint: %w", err)
				}
				return s.chamber.SetLoop(s.ctx, loop, chamber.LoopSettings{Setpoint: &v})
			}),
		},
		&cobra.Command{
			Use:   "set-range <loop> <min> <max>",
			Short: "Write the setpoint limits",
			Args:  cobra.ExactArgs(3),
			RunE: flags.run(func(s *session, args []string) error {
				loop, err := s.chamber.Lookup(args[0])
				if err != nil {
					return err
				}
				var r chamber.Range
				if r.Min, err = strconv.ParseFloat(args[1], 64); err != nil {
					return fmt.Errorf("min: %w", err)
				}
				if r.Max, err = strconv.ParseFloat(args[2], 64); err != nil {
					return fmt.Errorf("max: %w", err)
				}
				return s.chamber.SetLoop(s.ctx, loop, chamber.LoopSettings{Range: &r})
			}),
		},
		&cobra.Command{
			Use:   "set-mode <loop> <mode>",
			Short: "Write the loop mode (On, Off, Auto, Manual)",
			Args:  cobra.ExactArgs(2),
			RunE: flags.run(func(s *session, args []string) error {
				loop, err := s.chamber.Lookup(args[0])
				if err != nil {
					return err
				}
				return s.chamber.SetLoop(s.ctx, loop, chamber.LoopSettings{Mode: &args[1]})
			}),
		},
	)
	return cmd
}

func newOperationCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "operation",
		Short: "Read or change the operating mode",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get",
			Short: "Print the operating mode and running program",
			Args:  cobra.NoArgs,
			RunE: flags.run(func(s *session, _ []string) error {
				op, err := s.chamber.Operation(s.ctx)
				if err != nil {
					return err
				}
				return s.print(op)
			}),
		},
		&cobra.Command{
			Use:   "set <mode> [program] [step]",
			Short: "Start constant mode or a program, pause, resume, advance or stop",
			Long: `Modes: standby, off, constant, program, program_pause, program_resume,
program_advance. The program mode takes the program number and an optional
start step.`,
			Args: cobra.RangeArgs(1, 3),
			RunE: flags.run(func(s *session, args []string) error {
				req := chamber.OperationRequest{Mode: strings.ToLower(args[0])}
				var err error
				if len(args) > 1 {
					if req.Program, err = strconv.Atoi(args[1]); err != nil {
						return fmt.Errorf("program: %w", err)
					}
				}
				if len(args) > 2 {
					if req.Step, err = strconv.Atoi(args[2]); err != nil {
						return fmt.Errorf("step: %w", err)
					}
				}
				if req.Mode == chamber.ModeProgram && req.Program == 0 {
					return fmt.Errorf("mode %s needs a program number", req.Mode)
				}
				return s.chamber.SetOperation(s.ctx, req)
			}),
		},
	)
	return cmd
}

func programNumber(arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("program number: %w", err)
	}
	return n, nil
}

func newProgramCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "program",
		Short: "List, read and delete stored programs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List the program slots",
			Args:  cobra.NoArgs,
			RunE: flags.run(func(s *session, _ []string) error {
				programs, err := s.chamber.Programs(s.ctx)
				if err != nil {
					return err
				}
				return s.print(programs)
			}),
		},
		&cobra.Command{
			Use:   "get <n>",
			Short: "Print program n, 0 for a template",
			Args:  cobra.ExactArgs(1),
			RunE: flags.run(func(s *session, args []string) error {
				n, err := programNumber(args[0])
				if err != nil {
					return err
				}
				p, err := s.chamber.Program(s.ctx, n)
				if err != nil {
					return err
				}
				return s.print(p)
			}),
		},
		&cobra.Command{
			Use:   "delete <n>",
			Short: "Erase program n",
			Args:  cobra.ExactArgs(1),
			RunE: flags.run(func(s *session, args []string) error {
				n, err := programNumber(args[0])
				if err != nil {
					return err
				}
				return s.chamber.DeleteProgram(s.ctx, n)
			}),
		},
	)
	return cmd
}

func newDateTimeCmd(flags *rootFlags) *cobra.Command {
	var sync bool
	cmd := &cobra.Command{
		Use:   "datetime",
		Short: "Print the controller clock",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().BoolVar(&sync, "sync", false, "set the controller clock to this host's time first")
	cmd.RunE = flags.run(func(s *session, _ []string) error {
		if sync {
			if err := s.chamber.SetDateTime(s.ctx, time.Now()); err != nil {
				return err
			}
		}
		t, err := s.chamber.DateTime(s.ctx)
		if err != nil {
			return err
		}
		return s.print(map[string]time.Time{"datetime": t})
	})
	return cmd
}

func newProbeCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Identify the controller and detect its loops",
		Args:  cobra.NoArgs,
		RunE: flags.run(func(s *session, _ []string) error {
			name, err := s.chamber.ProcessController(s.ctx, true)
			if err != nil {
				return err
			}
			return s.print(struct {
				Controller string            `yaml:"controller"`
				Loops      []chamber.LoopRef `yaml:"loops"`
			}{name, s.chamber.Loops()})
		}),
	}
}

// parsePDU reads a Modbus PDU written as hex bytes, spaces allowed.
func parsePDU(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("request must be hex bytes: %w", err)
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("empty request")
	}
	return b, nil
}

func newRawCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "raw <request>",
		Short: "Send a controller native request",
		Long: `Espec requests are ASCII commands such as "TEMP?". Watlow requests are
Modbus PDUs in hex, function code first, such as "03 0a ce 00 02".`,
		Args: cobra.MinimumNArgs(1),
		RunE: flags.run(func(s *session, args []string) error {
			request := []byte(strings.Join(args, " "))
			if s.cfg.Controller == config.Watlow {
				var err error
				if request, err = parsePDU(string(request)); err != nil {
					return err
				}
			}
			response, err := s.chamber.Raw(s.ctx, request)
			if err != nil {
				return err
			}
			if s.cfg.Controller == config.Watlow {
				_, err = fmt.Fprintf(s.out, "% x\n", response)
				return err
			}
			_, err = fmt.Fprintln(s.out, string(response))
			return err
		}),
	}
}
