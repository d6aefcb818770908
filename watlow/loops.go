package watlow

import (
	"context"
	"fmt"
	"math"
	"strings"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
)

var (
	setpointRegs     = regs{loop: 2782, cascade: 4042}
	rangeMaxRegs     = regs{loop: 2776, cascade: 4036}
	rangeMinRegs     = regs{loop: 2774, cascade: 4034}
	modeCommandRegs  = regs{loop: 2730, cascade: 4010}
	modeRegs         = regs{loop: 2814, cascade: 4012}
	powerRegs        = regs{loop: 2784, cascade: 4044}
	powerCurrentRegs = regs{loop: 2808, cascade: 4178}
)

const (
	loopSetpointCurrent = 2810
	loopProcessValue    = 2820

	cascadeSetpointAir    = 4188
	cascadeSetpointProd   = 4190
	cascadeProcessProduct = 4180
	cascadeProcessAir     = 4182
	cascadeControl        = 4200
	cascadeDeviationPos   = 4170
	cascadeDeviationNeg   = 4168
)

// Setpoint reads the loop setpoint. The current setpoint of a cascade loop
// is its product setpoint while cascade control is on.
func (c *F4T) Setpoint(ctx context.Context, loop chamber.LoopRef) (chamber.Setpoint, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Setpoint{}, err
	}
	constant, err := c.readFloat(ctx, setpointRegs.at(loop))
	if err != nil {
		return chamber.Setpoint{}, err
	}
	if loop.Kind == chamber.Loop {
		current, err := c.readFloat(ctx, loopSetpointCurrent+uint16(loop.Number-1)*loopStride)
		if err != nil {
			return chamber.Setpoint{}, err
		}
		return chamber.Setpoint{Constant: constant, Current: current}, nil
	}
	air, err := c.readFloat(ctx, cascadeReg(cascadeSetpointAir, loop))
	if err != nil {
		return chamber.Setpoint{}, err
	}
	product, err := c.readFloat(ctx, cascadeReg(cascadeSetpointProd, loop))
	if err != nil {
		return chamber.Setpoint{}, err
	}
	ctl, err := c.CascadeEnable(ctx, loop)
	if err != nil {
		return chamber.Setpoint{}, err
	}
	sp := chamber.Setpoint{Constant: constant, Current: air, Air: &air, Product: &product}
	if ctl.Current {
		sp.Current = product
	}
	return sp, nil
}

// SetSetpoint writes the constant setpoint.
func (c *F4T) SetSetpoint(ctx context.Context, loop chamber.LoopRef, value float64) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	return c.writeFloat(ctx, setpointRegs.at(loop), value)
}

// ProcessValue reads the measured value. Cascade loops report the air and
// product sensors.
func (c *F4T) ProcessValue(ctx context.Context, loop chamber.LoopRef) (chamber.ProcessValue, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.ProcessValue{}, err
	}
	if loop.Kind == chamber.Loop {
		air, err := c.readFloat(ctx, loopProcessValue+uint16(loop.Number-1)*loopStride)
		return chamber.ProcessValue{Air: air}, err
	}
	product, err := c.readFloat(ctx, cascadeReg(cascadeProcessProduct, loop))
	if err != nil {
		return chamber.ProcessValue{}, err
	}
	air, err := c.readFloat(ctx, cascadeReg(cascadeProcessAir, loop))
	if err != nil {
		return chamber.ProcessValue{}, err
	}
	return chamber.ProcessValue{Air: air, Product: &product}, nil
}

func (c *F4T) Range(ctx context.Context, loop chamber.LoopRef) (chamber.Range, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Range{}, err
	}
	hi, err := c.readFloat(ctx, rangeMaxRegs.at(loop))
	if err != nil {
		return chamber.Range{}, err
	}
	lo, err := c.readFloat(ctx, rangeMinRegs.at(loop))
	if err != nil {
		return chamber.Range{}, err
	}
	return chamber.Range{Min: lo, Max: hi}, nil
}

func (c *F4T) SetRange(ctx context.Context, loop chamber.LoopRef, value chamber.Range) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	if value.Min > value.Max {
		return fmt.Errorf("watlow: range minimum %v above maximum %v", value.Min, value.Max)
	}
	if err := c.writeFloat(ctx, rangeMaxRegs.at(loop), value.Max); err != nil {
		return err
	}
	return c.writeFloat(ctx, rangeMinRegs.at(loop), value.Min)
}

// Enable reports whether the loop is controlling. A loop with an enable
// event is constant-enabled by the event and actually enabled only while
// the chamber runs.
func (c *F4T) Enable(ctx context.Context, loop chamber.LoopRef) (chamber.Toggle, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Toggle{}, err
	}
	mode, err := c.word(ctx, modeRegs.at(loop))
	if err != nil {
		return chamber.Toggle{}, err
	}
	cmd := mode != codeOff
	event := c.loopEvent(loop)
	if event == 0 {
		return chamber.Toggle{Constant: true, Current: cmd}, nil
	}
	ev, err := c.Event(ctx, event)
	if err != nil {
		return chamber.Toggle{}, err
	}
	running, err := c.running(ctx)
	if err != nil {
		return chamber.Toggle{}, err
	}
	if running {
		return chamber.Toggle{Constant: ev.Constant, Current: ev.Constant}, nil
	}
	return chamber.Toggle{Constant: ev.Constant, Current: cmd}, nil
}

// SetEnable turns an off loop to auto and sets its enable event, if any.
func (c *F4T) SetEnable(ctx context.Context, loop chamber.LoopRef, value bool) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	cmd, err := c.word(ctx, modeCommandRegs.at(loop))
	if err != nil {
		return err
	}
	if cmd == codeOff && value {
		if err := c.writeWord(ctx, modeCommandRegs.at(loop), codeAuto); err != nil {
			return err
		}
	}
	if event := c.loopEvent(loop); event != 0 {
		return c.SetEvent(ctx, event, value)
	}
	return nil
}

// Mode reads the loop control mode. A loop that is not enabled reads Off.
func (c *F4T) Mode(ctx context.Context, loop chamber.LoopRef) (chamber.LoopMode, error) {
	en, err := c.Enable(ctx, loop)
	if err != nil {
		return chamber.LoopMode{}, err
	}
	w, err := c.word(ctx, modeCommandRegs.at(loop))
	if err != nil {
		return chamber.LoopMode{}, err
	}
	cur, err := c.word(ctx, modeRegs.at(loop))
	if err != nil {
		return chamber.LoopMode{}, err
	}
	mode := chamber.LoopMode{Constant: "Off", Current: "Off"}
	if en.Constant {
		if mode.Constant, err = loopModeName(modeCommandRegs.at(loop), w); err != nil {
			return chamber.LoopMode{}, err
		}
	}
	if en.Current {
		if mode.Current, err = loopModeName(modeRegs.at(loop), cur); err != nil {
			return chamber.LoopMode{}, err
		}
		// an enabled loop whose output is off is still under automatic control
		if mode.Current == "Off" {
			mode.Current = "Auto"
		}
	}
	return mode, nil
}

func loopModeName(address, code uint16) (string, error) {
	name, ok := loopModes.Name(code)
	if !ok {
		return "", fmt.Errorf("watlow: register %d holds unknown loop mode %d", address, code)
	}
	return name, nil
}

// SetMode accepts Off, On, Auto and Manual.
func (c *F4T) SetMode(ctx context.Context, loop chamber.LoopRef, mode string) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	switch strings.ToLower(mode) {
	case "off":
		return c.SetEnable(ctx, loop, false)
	case "on":
		return c.SetEnable(ctx, loop, true)
	case "auto":
		if err := c.SetEnable(ctx, loop, true); err != nil {
			return err
		}
		return c.writeWord(ctx, modeCommandRegs.at(loop), codeAuto)
	case "manual":
		if err := c.SetEnable(ctx, loop, true); err != nil {
			return err
		}
		return c.writeWord(ctx, modeCommandRegs.at(loop), codeManual)
	}
	return fmt.Errorf("watlow: loop mode %q must be Off, On, Auto or Manual", mode)
}

// Modes lists the modes SetMode can select. Loops without an enable event
// cannot be turned off.
func (c *F4T) Modes(loop chamber.LoopRef) ([]string, error) {
	if err := c.checkLoop(loop); err != nil {
		return nil, err
	}
	if c.loopEvent(loop) != 0 {
		return []string{"Off", "Auto", "Manual"}, nil
	}
	return []string{"Auto", "Manual"}, nil
}

func (c *F4T) Power(ctx context.Context, loop chamber.LoopRef) (chamber.Power, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Power{}, err
	}
	constant, err := c.readFloat(ctx, powerRegs.at(loop))
	if err != nil {
		return chamber.Power{}, err
	}
	current, err := c.readFloat(ctx, powerCurrentRegs.at(loop))
	if err != nil {
		return chamber.Power{}, err
	}
	return chamber.Power{Constant: constant, Current: current}, nil
}

// SetPower writes the manual mode output power.
func (c *F4T) SetPower(ctx context.Context, loop chamber.LoopRef, value float64) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	return c.writeFloat(ctx, powerRegs.at(loop), value)
}

// Deviation reads the allowed product deviation of a cascade loop.
func (c *F4T) Deviation(ctx context.Context, loop chamber.LoopRef) (chamber.Deviation, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Deviation{}, err
	}
	if loop.Kind != chamber.Cascade {
		return chamber.Deviation{}, chamber.ErrNotSupported
	}
	pos, err := c.readFloat(ctx, cascadeReg(cascadeDeviationPos, loop))
	if err != nil {
		return chamber.Deviation{}, err
	}
	neg, err := c.readFloat(ctx, cascadeReg(cascadeDeviationNeg, loop))
	if err != nil {
		return chamber.Deviation{}, err
	}
	return chamber.Deviation{Positive: pos, Negative: neg}, nil
}

// SetDeviation writes the deviation. The negative limit is stored negated.
func (c *F4T) SetDeviation(ctx context.Context, loop chamber.LoopRef, value chamber.Deviation) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	if loop.Kind != chamber.Cascade {
		return chamber.ErrNotSupported
	}
	if err := c.writeFloat(ctx, cascadeReg(cascadeDeviationPos, loop), value.Positive); err != nil {
		return err
	}
	return c.writeFloat(ctx, cascadeReg(cascadeDeviationNeg, loop), -math.Abs(value.Negative))
}

// CascadeEnable reports whether the cascade loop controls the product
// temperature.
func (c *F4T) CascadeEnable(ctx context.Context, loop chamber.LoopRef) (chamber.Toggle, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Toggle{}, err
	}
	if loop.Kind != chamber.Cascade {
		return chamber.Toggle{}, chamber.ErrNotSupported
	}
	if event := eventAt(c.config().CascadeCtlEvents, loop.Number); event != 0 {
		return c.Event(ctx, event)
	}
	// the register disables the air-only setpoint mode: off means cascade
	w, err := c.word(ctx, cascadeReg(cascadeControl, loop))
	if err != nil {
		return chamber.Toggle{}, err
	}
	on := w == codeOff
	return chamber.Toggle{Constant: on, Current: on}, nil
}

func (c *F4T) SetCascadeEnable(ctx context.Context, loop chamber.LoopRef, value bool) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	if loop.Kind != chamber.Cascade {
		return chamber.ErrNotSupported
	}
	w, err := c.word(ctx, cascadeReg(cascadeControl, loop))
	if err != nil {
		return err
	}
	if w == codeOn && value {
		if err := c.writeWord(ctx, cascadeReg(cascadeControl, loop), codeOff); err != nil {
			return err
		}
	}
	if event := eventAt(c.config().CascadeCtlEvents, loop.Number); event != 0 {
		return c.SetEvent(ctx, event, value)
	}
	return nil
}
