package chamber

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/session"
)

// Loop field names accepted by GetLoop.
const (
	FieldSetpoint      = "setpoint"
	FieldProcessValue  = "processvalue"
	FieldRange         = "range"
	FieldEnable        = "enable"
	FieldUnits         = "units"
	FieldMode          = "mode"
	FieldPower         = "power"
	FieldDeviation     = "deviation"
	FieldCascadeEnable = "enable_cascade"
)

var fieldAliases = map[string]string{
	"setpoint":       FieldSetpoint,
	"setPoint":       FieldSetpoint,
	"setValue":       FieldSetpoint,
	"processvalue":   FieldProcessValue,
	"processValue":   FieldProcessValue,
	"range":          FieldRange,
	"enable":         FieldEnable,
	"units":          FieldUnits,
	"mode":           FieldMode,
	"power":          FieldPower,
	"deviation":      FieldDeviation,
	"enable_cascade": FieldCascadeEnable,
}

var (
	loopFields    = []string{FieldSetpoint, FieldProcessValue, FieldRange, FieldEnable, FieldUnits, FieldMode, FieldPower}
	cascadeFields = append(append([]string(nil), loopFields...), FieldDeviation, FieldCascadeEnable)
)

// Chamber is the public interface to one controller. Every method runs as a
// single exclusive session: the transport is opened for the call and closed
// before it returns.
type Chamber struct {
	ops     Ops
	session *session.Session
}

// New wraps ops. The options configure the session that serializes access.
func New(ops Ops, opts ...session.Option) *Chamber {
	return &Chamber{ops: ops, session: session.New(ops, opts...)}
}

// Do runs fn with exclusive access to the controller. Calls made through
// the Chamber with the ctx passed to fn join the same session.
func (c *Chamber) Do(ctx context.Context, fn func(ctx context.Context, ops Ops) error) error {
	return c.session.Do(ctx, func(ctx context.Context) error {
		return fn(ctx, c.ops)
	})
}

func get[T any](ctx context.Context, c *Chamber, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T
	err := c.session.Do(ctx, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

// Loops lists the loops of the controller, cascades first.
func (c *Chamber) Loops() []LoopRef {
	return c.ops.Loops()
}

// Lookup resolves a loop name, or a reference such as "loop1", to a loop.
func (c *Chamber) Lookup(name string) (LoopRef, error) {
	loops := c.ops.Loops()
	if i, ok := c.ops.LoopNames()[name]; ok {
		if err := CheckIndex("named loop", i+1, 1, len(loops)); err != nil {
			return LoopRef{}, err
		}
		return loops[i], nil
	}
	ref, err := ParseLoopRef(name)
	if err != nil {
		return LoopRef{}, fmt.Errorf("chamber: no loop named %q", name)
	}
	return ref, nil
}

// nameOf returns the first name, in sort order, of loop.
func (c *Chamber) nameOf(loop LoopRef) string {
	loops := c.ops.Loops()
	var names []string
	for name, i := range c.ops.LoopNames() {
		if i >= 0 && i < len(loops) && loops[i] == loop {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

// GetLoop reads fields of loop, all fields of its kind when none are given.
// Unknown field names fail before any I/O. Fields the loop kind or the
// controller model does not have are left nil.
func (c *Chamber) GetLoop(ctx context.Context, loop LoopRef, fields ...string) (LoopValues, error) {
	if len(fields) == 0 {
		fields = loopFields
		if loop.Kind == Cascade {
			fields = cascadeFields
		}
	}
	canonical := make([]string, len(fields))
	for i, f := range fields {
		name, ok := fieldAliases[f]
		if !ok {
			return LoopValues{}, &FieldError{Field: f}
		}
		canonical[i] = name
	}
	return get(ctx, c, func(ctx context.Context) (LoopValues, error) {
		return c.getLoop(ctx, loop, canonical)
	})
}

func (c *Chamber) getLoop(ctx context.Context, loop LoopRef, fields []string) (LoopValues, error) {
	v := LoopValues{Loop: loop, Name: c.nameOf(loop)}
	for _, f := range fields {
		if err := c.readField(ctx, loop, f, &v); err != nil {
			if errors.Is(err, ErrNotSupported) {
				continue
			}
			return v, err
		}
	}
	return v, nil
}

func (c *Chamber) readField(ctx context.Context, loop LoopRef, field string, v *LoopValues) error {
	switch field {
	case FieldSetpoint:
		return assign(&v.Setpoint)(c.ops.Setpoint(ctx, loop))
	case FieldProcessValue:
		return assign(&v.ProcessValue)(c.ops.ProcessValue(ctx, loop))
	case FieldRange:
		return assign(&v.Range)(c.ops.Range(ctx, loop))
	case FieldEnable:
		return assign(&v.Enable)(c.ops.Enable(ctx, loop))
	case FieldUnits:
		return assign(&v.Units)(c.ops.Units(ctx, loop))
	case FieldMode:
		return assign(&v.Mode)(c.ops.Mode(ctx, loop))
	case FieldPower:
		return assign(&v.Power)(c.ops.Power(ctx, loop))
	case FieldDeviation:
		if loop.Kind != Cascade {
			return nil
		}
		return assign(&v.Deviation)(c.ops.Deviation(ctx, loop))
	case FieldCascadeEnable:
		if loop.Kind != Cascade {
			return nil
		}
		return assign(&v.CascadeEnable)(c.ops.CascadeEnable(ctx, loop))
	}
	return &FieldError{Field: field}
}

// assign returns a setter that stores a successfully read value in dst and
// leaves dst nil on error.
func assign[T any](dst **T) func(T, error) error {
	return func(value T, err error) error {
		if err != nil {
			return err
		}
		*dst = &value
		return nil
	}
}

// SetLoop writes the non-nil fields of s. The mode is written first, the
// remaining fields in declaration order. Fields the controller model does
// not implement are skipped; cascade only fields are ignored for plain loops.
func (c *Chamber) SetLoop(ctx context.Context, loop LoopRef, s LoopSettings) error {
	return c.session.Do(ctx, func(ctx context.Context) error {
		steps := []func() error{}
		if s.Mode != nil {
			steps = append(steps, func() error { return c.ops.SetMode(ctx, loop, *s.Mode) })
		}
		if s.Setpoint != nil {
			steps = append(steps, func() error { return c.ops.SetSetpoint(ctx, loop, *s.Setpoint) })
		}
		if s.Range != nil {
			steps = append(steps, func() error { return c.ops.SetRange(ctx, loop, *s.Range) })
		}
		if s.Enable != nil {
			steps = append(steps, func() error { return c.ops.SetEnable(ctx, loop, *s.Enable) })
		}
		if s.Power != nil {
			steps = append(steps, func() error { return c.ops.SetPower(ctx, loop, *s.Power) })
		}
		if loop.Kind == Cascade && s.Deviation != nil {
			steps = append(steps, func() error { return c.ops.SetDeviation(ctx, loop, *s.Deviation) })
		}
		if loop.Kind == Cascade && s.CascadeEnable != nil {
			steps = append(steps, func() error { return c.ops.SetCascadeEnable(ctx, loop, *s.CascadeEnable) })
		}
		for _, step := range steps {
			if err := step(); err != nil && !errors.Is(err, ErrNotSupported) {
				return err
			}
		}
		return nil
	})
}

// Sample reads the date, status and every loop's setpoint, process value,
// enable, mode and power (cascade enable too for cascades) in one session.
func (c *Chamber) Sample(ctx context.Context, opts SampleOptions) (Sample, error) {
	return get(ctx, c, func(ctx context.Context) (Sample, error) {
		var (
			s   Sample
			err error
		)
		if s.DateTime, err = c.ops.DateTime(ctx); err != nil {
			return s, err
		}
		for _, loop := range c.ops.Loops() {
			fields := []string{FieldSetpoint, FieldProcessValue, FieldEnable, FieldMode, FieldPower}
			if loop.Kind == Cascade {
				fields = append(fields, FieldCascadeEnable)
			}
			v, err := c.getLoop(ctx, loop, fields)
			if err != nil {
				return s, err
			}
			s.Loops = append(s.Loops, v)
		}
		if s.Status, err = c.ops.Status(ctx); err != nil {
			return s, err
		}
		if opts.Alarms {
			alarms, err := c.ops.Alarms(ctx)
			if err != nil {
				return s, err
			}
			s.Alarms = &alarms
		}
		if opts.Operation {
			op, err := c.operation(ctx)
			if err != nil {
				return s, err
			}
			s.Operation = &op
		}
		if opts.Programs {
			if s.Programs, err = c.ops.Programs(ctx); err != nil && !errors.Is(err, ErrNotSupported) {
				return s, err
			}
		}
		numbers := make([]int, 0, len(opts.Events))
		for n := range opts.Events {
			numbers = append(numbers, n)
		}
		sort.Ints(numbers)
		for _, n := range numbers {
			t, err := c.ops.Event(ctx, n)
			if err != nil {
				return s, err
			}
			s.Events = append(s.Events, EventState{Number: n, Name: opts.Events[n], Toggle: t})
		}
		return s, nil
	})
}

// operationMode maps a controller status to an operation mode.
func operationMode(status Status) string {
	s := string(status)
	switch {
	case strings.Contains(s, "Paused"):
		return ModeProgramPause
	case strings.HasPrefix(s, "Prog"), strings.HasPrefix(s, "Remote Prog"):
		return ModeProgram
	case strings.HasPrefix(s, "Const"):
		return ModeConstant
	case strings.HasPrefix(s, "Stand"):
		return ModeStandby
	case status == StatusOff:
		return ModeOff
	case status == StatusAlarm:
		return ModeAlarm
	}
	return ModeUnknown
}

// Operation reads the operating state, with the running program and the
// active alarms when there are any.
func (c *Chamber) Operation(ctx context.Context) (Operation, error) {
	return get(ctx, c, c.operation)
}

func (c *Chamber) operation(ctx context.Context) (Operation, error) {
	status, err := c.ops.Status(ctx)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{Status: status, Mode: operationMode(status)}
	if status.InProgram() {
		if op.Program, err = c.programState(ctx); err != nil {
			return op, err
		}
	}
	if status == StatusAlarm {
		alarms, err := c.ops.Alarms(ctx)
		if err != nil {
			return op, err
		}
		op.Alarms = alarms.Active
	}
	return op, nil
}

func (c *Chamber) programState(ctx context.Context) (*ProgramState, error) {
	var (
		p   ProgramState
		err error
	)
	if p.Number, err = c.ops.CurrentProgram(ctx); err != nil {
		return nil, err
	}
	if p.Step, err = c.ops.CurrentStep(ctx); err != nil {
		return nil, err
	}
	if p.TimeRemaining, err = c.ops.ProgramTimeRemaining(ctx); err != nil && !errors.Is(err, ErrNotSupported) {
		return nil, err
	}
	if p.StepTimeRemaining, err = c.ops.StepTimeRemaining(ctx); err != nil {
		return nil, err
	}
	if p.Name, err = c.ops.ProgramName(ctx, p.Number); err != nil && !errors.Is(err, ErrNotSupported) {
		return nil, err
	}
	if p.Steps, err = c.ops.ProgramSteps(ctx, p.Number); err != nil && !errors.Is(err, ErrNotSupported) {
		return nil, err
	}
	if p.Counters, err = c.ops.ProgramCounters(ctx); err != nil && !errors.Is(err, ErrNotSupported) {
		return nil, err
	}
	return &p, nil
}

// SetOperation starts, stops or steps the chamber.
func (c *Chamber) SetOperation(ctx context.Context, req OperationRequest) error {
	return c.session.Do(ctx, func(ctx context.Context) error {
		switch req.Mode {
		case ModeStandby, ModeOff:
			return c.ops.Stop(ctx)
		case ModeConstant:
			return c.ops.StartConstant(ctx)
		case ModeProgram:
			step := req.Step
			if step == 0 {
				step = 1
			}
			return c.ops.StartProgram(ctx, req.Program, step)
		case ModeProgramPause:
			return c.ops.PauseProgram(ctx)
		case ModeProgramResume:
			return c.ops.ResumeProgram(ctx)
		case ModeProgramAdvance:
			return c.ops.AdvanceProgram(ctx)
		}
		return fmt.Errorf("chamber: unsupported operation mode %q", req.Mode)
	})
}

// OperationModes lists the modes SetOperation can start.
func (c *Chamber) OperationModes() []string {
	return c.ops.OperationModes()
}

// ProgramDetails reads the name and step count of program n.
func (c *Chamber) ProgramDetails(ctx context.Context, n int) (ProgramInfo, error) {
	return get(ctx, c, func(ctx context.Context) (ProgramInfo, error) {
		info := ProgramInfo{Number: n}
		var err error
		if info.Name, err = c.ops.ProgramName(ctx, n); err != nil {
			return info, err
		}
		info.Steps, err = c.ops.ProgramSteps(ctx, n)
		return info, err
	})
}

// SetProgram stores p as program n. A nil p deletes the program.
func (c *Chamber) SetProgram(ctx context.Context, n int, p Program) error {
	return c.session.Do(ctx, func(ctx context.Context) error {
		if p == nil {
			return c.ops.DeleteProgram(ctx, n)
		}
		return c.ops.SetProgram(ctx, n, p)
	})
}

// Program reads program n.
func (c *Chamber) Program(ctx context.Context, n int) (Program, error) {
	return get(ctx, c, func(ctx context.Context) (Program, error) { return c.ops.Program(ctx, n) })
}

// Programs lists the stored programs.
func (c *Chamber) Programs(ctx context.Context) ([]ProgramInfo, error) {
	return get(ctx, c, c.ops.Programs)
}

// DeleteProgram erases program n.
func (c *Chamber) DeleteProgram(ctx context.Context, n int) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.DeleteProgram(ctx, n) })
}

// ProgramCounters reads the repeat counters of the running program.
func (c *Chamber) ProgramCounters(ctx context.Context) ([]ProgramCounter, error) {
	return get(ctx, c, c.ops.ProgramCounters)
}

// Setpoint reads the setpoint of loop.
func (c *Chamber) Setpoint(ctx context.Context, loop LoopRef) (Setpoint, error) {
	return get(ctx, c, func(ctx context.Context) (Setpoint, error) { return c.ops.Setpoint(ctx, loop) })
}

// SetSetpoint writes the constant setpoint of loop.
func (c *Chamber) SetSetpoint(ctx context.Context, loop LoopRef, value float64) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetSetpoint(ctx, loop, value) })
}

// ProcessValue reads the measured value of loop.
func (c *Chamber) ProcessValue(ctx context.Context, loop LoopRef) (ProcessValue, error) {
	return get(ctx, c, func(ctx context.Context) (ProcessValue, error) { return c.ops.ProcessValue(ctx, loop) })
}

// Range reads the setpoint limits of loop.
func (c *Chamber) Range(ctx context.Context, loop LoopRef) (Range, error) {
	return get(ctx, c, func(ctx context.Context) (Range, error) { return c.ops.Range(ctx, loop) })
}

// SetRange writes the setpoint limits of loop.
func (c *Chamber) SetRange(ctx context.Context, loop LoopRef, value Range) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetRange(ctx, loop, value) })
}

// Enable reads whether loop is on.
func (c *Chamber) Enable(ctx context.Context, loop LoopRef) (Toggle, error) {
	return get(ctx, c, func(ctx context.Context) (Toggle, error) { return c.ops.Enable(ctx, loop) })
}

// SetEnable turns loop on or off.
func (c *Chamber) SetEnable(ctx context.Context, loop LoopRef, value bool) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetEnable(ctx, loop, value) })
}

// Units reads the engineering units of loop.
func (c *Chamber) Units(ctx context.Context, loop LoopRef) (string, error) {
	return get(ctx, c, func(ctx context.Context) (string, error) { return c.ops.Units(ctx, loop) })
}

// Mode reads the control mode of loop.
func (c *Chamber) Mode(ctx context.Context, loop LoopRef) (LoopMode, error) {
	return get(ctx, c, func(ctx context.Context) (LoopMode, error) { return c.ops.Mode(ctx, loop) })
}

// SetMode writes the control mode of loop.
func (c *Chamber) SetMode(ctx context.Context, loop LoopRef, mode string) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetMode(ctx, loop, mode) })
}

// Modes lists the modes SetMode accepts for loop.
func (c *Chamber) Modes(loop LoopRef) ([]string, error) {
	return c.ops.Modes(loop)
}

// Power reads the output power of loop.
func (c *Chamber) Power(ctx context.Context, loop LoopRef) (Power, error) {
	return get(ctx, c, func(ctx context.Context) (Power, error) { return c.ops.Power(ctx, loop) })
}

// SetPower writes the manual output power of loop.
func (c *Chamber) SetPower(ctx context.Context, loop LoopRef, value float64) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetPower(ctx, loop, value) })
}

// Deviation reads the allowed deviation of a cascade loop.
func (c *Chamber) Deviation(ctx context.Context, loop LoopRef) (Deviation, error) {
	return get(ctx, c, func(ctx context.Context) (Deviation, error) { return c.ops.Deviation(ctx, loop) })
}

// SetDeviation writes the allowed deviation of a cascade loop.
func (c *Chamber) SetDeviation(ctx context.Context, loop LoopRef, value Deviation) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetDeviation(ctx, loop, value) })
}

// CascadeEnable reads whether a cascade loop controls on the product value.
func (c *Chamber) CascadeEnable(ctx context.Context, loop LoopRef) (Toggle, error) {
	return get(ctx, c, func(ctx context.Context) (Toggle, error) { return c.ops.CascadeEnable(ctx, loop) })
}

// SetCascadeEnable turns product control of a cascade loop on or off.
func (c *Chamber) SetCascadeEnable(ctx context.Context, loop LoopRef, value bool) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetCascadeEnable(ctx, loop, value) })
}

// Event reads event n.
func (c *Chamber) Event(ctx context.Context, n int) (Toggle, error) {
	return get(ctx, c, func(ctx context.Context) (Toggle, error) { return c.ops.Event(ctx, n) })
}

// SetEvent turns event n on or off.
func (c *Chamber) SetEvent(ctx context.Context, n int, value bool) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetEvent(ctx, n, value) })
}

// Status reads the operating state.
func (c *Chamber) Status(ctx context.Context) (Status, error) {
	return get(ctx, c, c.ops.Status)
}

// Alarms reads the alarm channels.
func (c *Chamber) Alarms(ctx context.Context) (AlarmStatus, error) {
	return get(ctx, c, c.ops.Alarms)
}

// DateTime reads the controller clock.
func (c *Chamber) DateTime(ctx context.Context) (time.Time, error) {
	return get(ctx, c, c.ops.DateTime)
}

// SetDateTime sets the controller clock.
func (c *Chamber) SetDateTime(ctx context.Context, t time.Time) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetDateTime(ctx, t) })
}

// Refrigeration reads the refrigeration setting.
func (c *Chamber) Refrigeration(ctx context.Context) (Refrigeration, error) {
	return get(ctx, c, c.ops.Refrigeration)
}

// SetRefrigeration writes the refrigeration setting.
func (c *Chamber) SetRefrigeration(ctx context.Context, value Refrigeration) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetRefrigeration(ctx, value) })
}

// NetworkSettings reads the network configuration.
func (c *Chamber) NetworkSettings(ctx context.Context) (NetworkSettings, error) {
	return get(ctx, c, c.ops.NetworkSettings)
}

// SetNetworkSettings writes the network configuration, nil clears it.
func (c *Chamber) SetNetworkSettings(ctx context.Context, value *NetworkSettings) error {
	return c.session.Do(ctx, func(ctx context.Context) error { return c.ops.SetNetworkSettings(ctx, value) })
}

// ProcessController reads the controller identity, re-detecting its
// capabilities when update is set.
func (c *Chamber) ProcessController(ctx context.Context, update bool) (string, error) {
	return get(ctx, c, func(ctx context.Context) (string, error) { return c.ops.ProcessController(ctx, update) })
}

// Raw sends a controller native request under the session lock.
func (c *Chamber) Raw(ctx context.Context, request []byte) ([]byte, error) {
	return get(ctx, c, func(ctx context.Context) ([]byte, error) { return c.ops.Raw(ctx, request) })
}
