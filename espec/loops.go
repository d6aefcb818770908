package espec

import (
	"context"
	"fmt"
	"strings"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
)

// isHumidity reports whether loop addresses the humidity loop. Cascade 1
// and loop 1 are temperature.
func isHumidity(loop chamber.LoopRef) bool {
	return loop.Kind == chamber.Loop && loop.Number == humidityLoop
}

func (c *P300) loopState(ctx context.Context, loop chamber.LoopRef) (loopState, error) {
	command := "TEMP?"
	if isHumidity(loop) {
		command = "HUMI?"
	}
	response, err := c.query(ctx, command)
	if err != nil {
		return loopState{}, err
	}
	return parseLoop(command, response)
}

func (c *P300) constantState(ctx context.Context, loop chamber.LoopRef) (constantState, error) {
	command := "CONSTANT SET?,TEMP"
	if isHumidity(loop) {
		command = "CONSTANT SET?,HUMI"
	}
	response, err := c.query(ctx, command)
	if err != nil {
		return constantState{}, err
	}
	return parseConstant(command, response)
}

func (c *P300) ptcState(ctx context.Context) (ptcState, error) {
	const command = "TEMP PTC?"
	response, err := c.query(ctx, command)
	if err != nil {
		return ptcState{}, err
	}
	return parsePTC(command, response, c.scp220())
}

func (c *P300) constantPTC(ctx context.Context) (constantPTC, error) {
	const command = "CONSTANT SET?,PTC"
	response, err := c.query(ctx, command)
	if err != nil {
		return constantPTC{}, err
	}
	return parseConstantPTC(command, response, c.scp220())
}

// Setpoint reads the constant and the active setpoint. The active
// setpoint of a cascade follows the product while cascade control is on.
func (c *P300) Setpoint(ctx context.Context, loop chamber.LoopRef) (chamber.Setpoint, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Setpoint{}, err
	}
	con, err := c.constantState(ctx, loop)
	if err != nil {
		return chamber.Setpoint{}, err
	}
	if loop.Kind == chamber.Cascade {
		ptc, err := c.ptcState(ctx)
		if err != nil {
			return chamber.Setpoint{}, err
		}
		sp := chamber.Setpoint{Constant: con.sp, Current: ptc.spAir, Air: &ptc.spAir, Product: &ptc.spProduct}
		if ptc.cascade {
			sp.Current = ptc.spProduct
		}
		return sp, nil
	}
	cur, err := c.loopState(ctx, loop)
	if err != nil {
		return chamber.Setpoint{}, err
	}
	return chamber.Setpoint{Constant: con.sp, Current: cur.sp}, nil
}

func (c *P300) SetSetpoint(ctx context.Context, loop chamber.LoopRef, value float64) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	if isHumidity(loop) {
		return c.send(ctx, "HUMI, S%0.1f", value)
	}
	return c.send(ctx, "TEMP, S%0.1f", value)
}

func (c *P300) ProcessValue(ctx context.Context, loop chamber.LoopRef) (chamber.ProcessValue, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.ProcessValue{}, err
	}
	if loop.Kind == chamber.Cascade {
		ptc, err := c.ptcState(ctx)
		if err != nil {
			return chamber.ProcessValue{}, err
		}
		return chamber.ProcessValue{Air: ptc.pvAir, Product: &ptc.pvProduct}, nil
	}
	s, err := c.loopState(ctx, loop)
	if err != nil {
		return chamber.ProcessValue{}, err
	}
	return chamber.ProcessValue{Air: s.pv}, nil
}

func (c *P300) Range(ctx context.Context, loop chamber.LoopRef) (chamber.Range, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Range{}, err
	}
	s, err := c.loopState(ctx, loop)
	if err != nil {
		return chamber.Range{}, err
	}
	return chamber.Range{Min: s.min, Max: s.max}, nil
}

// SetRange writes the setpoint limits.
func (c *P300) SetRange(ctx context.Context, loop chamber.LoopRef, value chamber.Range) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	if value.Min > value.Max {
		return fmt.Errorf("espec: range minimum %g above maximum %g", value.Min, value.Max)
	}
	command := "TEMP"
	if isHumidity(loop) {
		command = "HUMI"
	}
	if err := c.send(ctx, "%s, L%0.1f", command, value.Min); err != nil {
		return err
	}
	return c.send(ctx, "%s, H%0.1f", command, value.Max)
}

// Enable is always on for temperature. Humidity reports its constant
// setting and whether it is controlled right now.
func (c *P300) Enable(ctx context.Context, loop chamber.LoopRef) (chamber.Toggle, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Toggle{}, err
	}
	if !isHumidity(loop) {
		return chamber.Toggle{Constant: true, Current: true}, nil
	}
	cur, err := c.loopState(ctx, loop)
	if err != nil {
		return chamber.Toggle{}, err
	}
	con, err := c.constantState(ctx, loop)
	if err != nil {
		return chamber.Toggle{}, err
	}
	return chamber.Toggle{Constant: con.enable, Current: cur.enable}, nil
}

// SetEnable turns humidity control on at its constant setpoint, or off.
// Temperature cannot be disabled and is left alone.
func (c *P300) SetEnable(ctx context.Context, loop chamber.LoopRef, value bool) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	if !isHumidity(loop) {
		return nil
	}
	if !value {
		return c.send(ctx, "HUMI,SOFF")
	}
	con, err := c.constantState(ctx, loop)
	if err != nil {
		return err
	}
	return c.send(ctx, "HUMI, S%0.1f", con.sp)
}

func (c *P300) Units(_ context.Context, loop chamber.LoopRef) (string, error) {
	if err := c.checkLoop(loop); err != nil {
		return "", err
	}
	if isHumidity(loop) {
		return "%RH", nil
	}
	return "°C", nil
}

// Mode reports "On" or "Off". Nothing is controlled while the chamber is
// off or in standby.
func (c *P300) Mode(ctx context.Context, loop chamber.LoopRef) (chamber.LoopMode, error) {
	enable, err := c.Enable(ctx, loop)
	if err != nil {
		return chamber.LoopMode{}, err
	}
	mode := chamber.LoopMode{Constant: onOff(enable.Constant), Current: onOff(enable.Current)}
	response, err := c.query(ctx, "MODE?")
	if err != nil {
		return chamber.LoopMode{}, err
	}
	if response == "OFF" || response == "STANDBY" {
		mode.Current = "Off"
	}
	return mode, nil
}

func onOff(v bool) string {
	if v {
		return "On"
	}
	return "Off"
}

// SetMode accepts "On" and "Off" in any case.
func (c *P300) SetMode(ctx context.Context, loop chamber.LoopRef, mode string) error {
	switch strings.ToLower(mode) {
	case "on":
		return c.SetEnable(ctx, loop, true)
	case "off":
		return c.SetEnable(ctx, loop, false)
	}
	return fmt.Errorf("espec: loop mode must be on or off, got %q", mode)
}

// Modes lists the modes of loop: temperature is always on.
func (c *P300) Modes(loop chamber.LoopRef) ([]string, error) {
	if err := c.checkLoop(loop); err != nil {
		return nil, err
	}
	if isHumidity(loop) {
		return []string{"Off", "On"}, nil
	}
	return []string{"On"}, nil
}

// Power reads the dry (temperature) or wet (humidity) heater output.
func (c *P300) Power(ctx context.Context, loop chamber.LoopRef) (chamber.Power, error) {
	if err := c.checkLoop(loop); err != nil {
		return chamber.Power{}, err
	}
	const command = "%?"
	response, err := c.query(ctx, command)
	if err != nil {
		return chamber.Power{}, err
	}
	h, err := parseHeaters(command, response)
	if err != nil {
		return chamber.Power{}, err
	}
	v := h.dry
	if isHumidity(loop) {
		v = h.wet
	}
	return chamber.Power{Constant: v, Current: v}, nil
}

// SetPower is not supported; the heater output cannot be forced.
func (c *P300) SetPower(_ context.Context, loop chamber.LoopRef, _ float64) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	return chamber.ErrNotSupported
}

// Deviation reads the constant product deviation limits of the cascade.
func (c *P300) Deviation(ctx context.Context, loop chamber.LoopRef) (chamber.Deviation, error) {
	if err := c.checkCascade(loop); err != nil {
		return chamber.Deviation{}, err
	}
	p, err := c.constantPTC(ctx)
	if err != nil {
		return chamber.Deviation{}, err
	}
	return chamber.Deviation{Positive: p.positive, Negative: p.negative}, nil
}

// SetDeviation writes the deviation limits, keeping cascade control as it
// is set.
func (c *P300) SetDeviation(ctx context.Context, loop chamber.LoopRef, value chamber.Deviation) error {
	if err := c.checkCascade(loop); err != nil {
		return err
	}
	p, err := c.constantPTC(ctx)
	if err != nil {
		return err
	}
	return c.writePTC(ctx, p.enable, value)
}

func (c *P300) CascadeEnable(ctx context.Context, loop chamber.LoopRef) (chamber.Toggle, error) {
	if err := c.checkCascade(loop); err != nil {
		return chamber.Toggle{}, err
	}
	cur, err := c.ptcState(ctx)
	if err != nil {
		return chamber.Toggle{}, err
	}
	con, err := c.constantPTC(ctx)
	if err != nil {
		return chamber.Toggle{}, err
	}
	return chamber.Toggle{Constant: con.enable, Current: cur.cascade}, nil
}

// SetCascadeEnable turns product control on or off, keeping the active
// deviation limits.
func (c *P300) SetCascadeEnable(ctx context.Context, loop chamber.LoopRef, value bool) error {
	if err := c.checkCascade(loop); err != nil {
		return err
	}
	p, err := c.ptcState(ctx)
	if err != nil {
		return err
	}
	return c.writePTC(ctx, value, chamber.Deviation{Positive: p.positive, Negative: p.negative})
}

// checkCascade fails with ErrNotSupported for plain loops.
func (c *P300) checkCascade(loop chamber.LoopRef) error {
	if err := c.checkLoop(loop); err != nil {
		return err
	}
	if loop.Kind != chamber.Cascade {
		return chamber.ErrNotSupported
	}
	return nil
}

// writePTC writes product control. The SCP-220 takes the negative limit as
// a magnitude.
func (c *P300) writePTC(ctx context.Context, enable bool, dev chamber.Deviation) error {
	negative := dev.Negative
	if c.scp220() && negative < 0 {
		negative = -negative
	}
	return c.send(ctx, "TEMP PTC, PTC%s, DEVP%0.1f, DEVN%0.1f", strings.ToUpper(onOff(enable)), dev.Positive, negative)
}
