package watlow

import (
	"context"
	"errors"
	"fmt"
	"time"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/modbus"
)

// eventRegs holds the state of events 1-12. Events 9-12 are key events.
var eventRegs = [maxEvents]uint16{16594, 16596, 16598, 16600, 16822, 16824, 16826, 16828, 6844, 6864, 6884, 6904}

// runIORegs holds the first digital output of each module.
var runIORegs = []uint16{33718, 33958, 34198, 34438, 34678, 34918}

const (
	keyEventPress = 6850
	keyEventSize  = 20

	alarmState    = 1356
	alarmStride   = 100
	limitState    = 11250
	limitError    = 11288
	limitStatus   = 11264
	limitStride   = 60
	limitAlarmBit = 20

	profileStatus      = 16568
	profileStart       = 16558
	profileStartStep   = 16560
	profileStartAction = 16562
	profileResume      = 16564
	profileAction      = 16566
	profileCurrent     = 16588
	profileStep        = 16590
	profileTime        = 16570
	profileStepTime    = 16622

	clockRegister = 14664
)

// Event reads one of events 1-12.
func (c *F4T) Event(ctx context.Context, n int) (chamber.Toggle, error) {
	if err := chamber.CheckIndex("event", n, 1, maxEvents); err != nil {
		return chamber.Toggle{}, err
	}
	w, err := c.word(ctx, eventRegs[n-1])
	if err != nil {
		return chamber.Toggle{}, err
	}
	on := w == codeOn
	return chamber.Toggle{Constant: on, Current: on}, nil
}

// SetEvent sets a profile event, or presses (true) or releases (false) a
// key event.
func (c *F4T) SetEvent(ctx context.Context, n int, value bool) error {
	if err := chamber.CheckIndex("event", n, 1, maxEvents); err != nil {
		return err
	}
	if n <= 8 {
		return c.writeWord(ctx, eventRegs[n-1], onOff(value))
	}
	key := codeUp
	if value {
		key = codeDown
	}
	return c.writeWord(ctx, keyEventPress+uint16(n-9)*keyEventSize, key)
}

// running reads the run indicator output. It is false with no indicator
// configured.
func (c *F4T) running(ctx context.Context) (bool, error) {
	cfg := c.config()
	if cfg.RunModule == 0 {
		return false, nil
	}
	if err := chamber.CheckIndex("io module", cfg.RunModule, 1, len(runIORegs)); err != nil {
		return false, err
	}
	if err := chamber.CheckIndex("io point", cfg.RunIO, 1, 6); err != nil {
		return false, err
	}
	w, err := c.word(ctx, runIORegs[cfg.RunModule-1]+uint16(cfg.RunIO-1)*40)
	if err != nil {
		var merr *modbus.Error
		if errors.As(err, &merr) {
			return false, fmt.Errorf("watlow: run indicator module %d point %d does not exist: %w", cfg.RunModule, cfg.RunIO, err)
		}
		return false, err
	}
	return w == codeOn, nil
}

// Status derives the chamber status. Active alarms take priority.
func (c *F4T) Status(ctx context.Context) (chamber.Status, error) {
	alarms, err := c.Alarms(ctx)
	if err != nil {
		return "", err
	}
	if len(alarms.Active) > 0 {
		return chamber.StatusAlarm, nil
	}
	state, err := c.word(ctx, profileStatus)
	if err != nil {
		return "", err
	}
	running, err := c.running(ctx)
	if err != nil {
		return "", err
	}
	switch state {
	case codeRunning:
		return chamber.StatusProgramRunning, nil
	case codePause:
		return chamber.StatusProgramPaused, nil
	case codeTimedStart:
		if running {
			return chamber.StatusConstantCalendarStart, nil
		}
		return chamber.StatusStandbyCalendarStart, nil
	}
	if running {
		return chamber.StatusConstant, nil
	}
	return chamber.StatusStandby, nil
}

// Alarms reads the alarm channels and the configured limit controllers.
// Limit n reports as alarm 20+n.
func (c *F4T) Alarms(ctx context.Context) (chamber.AlarmStatus, error) {
	cfg := c.config()
	status := chamber.AlarmStatus{Active: []int{}, Inactive: []int{}}
	for i := 0; i < cfg.Alarms; i++ {
		w, err := c.word(ctx, alarmState+uint16(i)*alarmStride)
		if err != nil {
			return chamber.AlarmStatus{}, err
		}
		if alarmIdle[w] {
			status.Inactive = append(status.Inactive, i+1)
		} else {
			status.Active = append(status.Active, i+1)
		}
	}
	for _, limit := range cfg.Limits {
		offset := uint16(limit-1) * limitStride
		state, err := c.word(ctx, limitState+offset)
		if err != nil {
			return chamber.AlarmStatus{}, err
		}
		cerr, err := c.word(ctx, limitError+offset)
		if err != nil {
			return chamber.AlarmStatus{}, err
		}
		lstat, err := c.word(ctx, limitStatus+offset)
		if err != nil {
			return chamber.AlarmStatus{}, err
		}
		if state == codeError || cerr != codeNone || lstat == codeFail {
			status.Active = append(status.Active, limitAlarmBit+limit)
		} else {
			status.Inactive = append(status.Inactive, limitAlarmBit+limit)
		}
	}
	return status, nil
}

func (c *F4T) terminate(ctx context.Context, delay time.Duration) error {
	if err := c.writeWord(ctx, profileAction, codeTerminate); err != nil {
		return err
	}
	return sleep(ctx, delay)
}

// StartConstant ends a running profile and runs the chamber on the
// constant setpoints.
func (c *F4T) StartConstant(ctx context.Context) error {
	cfg := c.config()
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if status.InProgram() {
		if err := c.terminate(ctx, cfg.ConstantDelay); err != nil {
			return err
		}
	}
	running, err := c.running(ctx)
	if err != nil {
		return err
	}
	if !running {
		if err := c.SetEvent(ctx, cfg.CondEvent, true); err != nil {
			return err
		}
	}
	if status == chamber.StatusStandby {
		loop := chamber.LoopRef{Kind: chamber.Loop, Number: 1}
		if cfg.Cascades > 0 {
			loop.Kind = chamber.Cascade
		}
		return c.SetEnable(ctx, loop, true)
	}
	return nil
}

// Stop stops the chamber. A momentary run event is pressed again.
func (c *F4T) Stop(ctx context.Context) error {
	cfg := c.config()
	running, err := c.running(ctx)
	if err != nil || !running {
		return err
	}
	return c.SetEvent(ctx, cfg.CondEvent, !cfg.CondEventToggle)
}

// StartProgram starts profile n at step.
func (c *F4T) StartProgram(ctx context.Context, n, step int) error {
	if err := chamber.CheckIndex("profile", n, 1, maxPrograms); err != nil {
		return err
	}
	steps, err := c.ProgramSteps(ctx, n)
	if err != nil {
		return err
	}
	if steps == 0 {
		return &chamber.ProgramNotFoundError{Number: n}
	}
	if err := chamber.CheckIndex("step", step, 1, steps); err != nil {
		return err
	}
	status, err := c.Status(ctx)
	if err != nil {
		return err
	}
	if status.InProgram() {
		if err := c.terminate(ctx, c.config().StartDelay); err != nil {
			return err
		}
	}
	if err := c.writeWord(ctx, profileStart, uint16(n)); err != nil {
		return err
	}
	if err := c.writeWord(ctx, profileStartStep, uint16(step)); err != nil {
		return err
	}
	return c.writeWord(ctx, profileStartAction, codeStart)
}

func (c *F4T) PauseProgram(ctx context.Context) error {
	return c.writeWord(ctx, profileAction, codePause)
}

func (c *F4T) ResumeProgram(ctx context.Context) error {
	return c.writeWord(ctx, profileResume, codeResume)
}

// AdvanceProgram restarts the running profile at its next step.
func (c *F4T) AdvanceProgram(ctx context.Context) error {
	program, err := c.CurrentProgram(ctx)
	if err != nil {
		return err
	}
	step, err := c.CurrentStep(ctx)
	if err != nil {
		return err
	}
	if err := c.StartConstant(ctx); err != nil {
		return err
	}
	if err := sleep(ctx, c.config().AdvanceDelay); err != nil {
		return err
	}
	return c.StartProgram(ctx, program, step+1)
}

// OperationModes lists the modes SetOperation accepts.
func (c *F4T) OperationModes() []string {
	if c.config().CondEvent == 0 {
		return []string{chamber.ModeConstant, chamber.ModeProgram}
	}
	return []string{chamber.ModeStandby, chamber.ModeConstant, chamber.ModeProgram}
}

func (c *F4T) CurrentProgram(ctx context.Context) (int, error) {
	w, err := c.word(ctx, profileCurrent)
	return int(w), err
}

func (c *F4T) CurrentStep(ctx context.Context) (int, error) {
	w, err := c.word(ctx, profileStep)
	return int(w), err
}

func (c *F4T) StepTimeRemaining(ctx context.Context) (time.Duration, error) {
	w, err := c.words(ctx, profileStepTime, 5)
	if err != nil {
		return 0, err
	}
	return hms(w[4], w[2], w[0]), nil
}

func (c *F4T) ProgramTimeRemaining(ctx context.Context) (time.Duration, error) {
	w, err := c.words(ctx, profileTime, 3)
	if err != nil {
		return 0, err
	}
	return hms(w[2], w[0], 0), nil
}

func hms(h, m, s uint16) time.Duration {
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute + time.Duration(s)*time.Second
}

// ProgramCounters is always empty; the F4T does not expose jump counters.
func (c *F4T) ProgramCounters(context.Context) ([]chamber.ProgramCounter, error) {
	return []chamber.ProgramCounter{}, nil
}

// DateTime reads the controller clock.
func (c *F4T) DateTime(ctx context.Context) (time.Time, error) {
	w, err := c.words(ctx, clockRegister, 12)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(int(w[10]), time.Month(w[6]), int(w[8]), int(w[0]), int(w[2]), int(w[4]), 0, time.Local), nil
}

// SetDateTime sets the controller clock, one field at a time.
func (c *F4T) SetDateTime(ctx context.Context, t time.Time) error {
	fields := []int{t.Hour(), t.Minute(), t.Second(), int(t.Month()), t.Day(), t.Year()}
	for i, v := range fields {
		if err := c.writeWord(ctx, clockRegister+uint16(i)*2, uint16(v)); err != nil {
			return err
		}
	}
	return nil
}

func (c *F4T) Refrigeration(context.Context) (chamber.Refrigeration, error) {
	return chamber.Refrigeration{}, chamber.ErrNotSupported
}

func (c *F4T) SetRefrigeration(context.Context, chamber.Refrigeration) error {
	return chamber.ErrNotSupported
}
