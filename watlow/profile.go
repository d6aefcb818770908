package watlow

import (
	"context"
	"fmt"
	"time"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
)

const (
	profileNames      = 16886
	profileNameStride = 40
	profileNameLength = 20

	// Profile editor. Writing a profile number to editSelect loads it into
	// the editor registers below.
	editSelect  = 18888
	editAction  = 18890
	editName    = 18606
	editSteps   = 18920
	editLog     = 19038
	editSoakDev = 19086

	stepStride    = 170
	stepType      = 19094
	stepHours     = 19096
	stepMinutes   = 19098
	stepSeconds   = 19100
	stepJumpStep  = 19102
	stepJumpCount = 19104
	stepRate      = 19106
	stepTarget    = 19114
	stepWait      = 19122
	stepSoak      = 19138
	stepEvents    = 19146
	stepEvents5   = 19162
	stepEndMode   = 19170

	maxProfileLoops = 4
	profileEvents   = 8
)

// StepType is the kind of a profile step.
type StepType string

const (
	StepSoak     StepType = "soak"
	StepInstant  StepType = "instant"
	StepRampTime StepType = "ramptime"
	StepRampRate StepType = "ramprate"
	StepWait     StepType = "wait"
	StepJump     StepType = "jump"
	StepEnd      StepType = "end"
)

func (t StepType) hasLoops() bool {
	switch t {
	case StepSoak, StepInstant, StepRampTime, StepRampRate, StepEnd:
		return true
	}
	return false
}

func (t StepType) hasDuration() bool {
	return t == StepSoak || t == StepInstant || t == StepRampTime
}

// End modes of an end step loop.
const (
	EndUser = "user"
	EndOff  = "off"
	EndHold = "hold"
)

// Profile is an F4T profile.
type Profile struct {
	Name string `yaml:"name"`
	// Log turns on data logging while the profile runs.
	Log bool `yaml:"log"`
	// SoakDeviation is the guaranteed soak band of each loop.
	SoakDeviation []float64 `yaml:"gs_dev"`
	Steps         []Step    `yaml:"steps"`
}

// Step is one profile step. Which fields apply depends on Type: Duration
// for soak, instant and ramptime; Loops for soak, instant, ramptime,
// ramprate and end; Waits for wait; Jump for jump.
type Step struct {
	Type     StepType      `yaml:"type"`
	Duration time.Duration `yaml:"duration,omitempty"`
	Loops    []StepLoop    `yaml:"loops,omitempty"`
	Waits    []Wait        `yaml:"waits,omitempty"`
	Jump     *Jump         `yaml:"jump,omitempty"`
	// Events holds "on", "off" or "nc" for events 1-8. Missing entries
	// are "nc".
	Events []string `yaml:"events,omitempty"`
}

// StepLoop is the step target of one loop, in loop map order.
type StepLoop struct {
	// Target applies to instant, ramptime and ramprate steps.
	Target float64 `yaml:"target"`
	// Rate applies to ramprate steps.
	Rate float64 `yaml:"rate,omitempty"`
	// EndMode applies to end steps: user, off or hold.
	EndMode        string `yaml:"end_mode,omitempty"`
	GuaranteedSoak bool   `yaml:"gsoak"`
	// Enable and Cascade drive the loop's enable and cascade control
	// events, when it has them.
	Enable  bool `yaml:"enable"`
	Cascade bool `yaml:"cascade,omitempty"`
}

// Wait holds a step until a wait input meets Condition.
type Wait struct {
	Number    int     `yaml:"number"`
	Input     string  `yaml:"input,omitempty"`
	Condition string  `yaml:"condition"`
	Value     float64 `yaml:"value"`
}

// Jump repeats the profile from Step, Count times.
type Jump struct {
	Step  int `yaml:"step"`
	Count int `yaml:"count"`
}

func (p *Profile) ProgramName() string {
	return p.Name
}

func (p *Profile) StepCount() int {
	return len(p.Steps)
}

// Validate checks p against a controller with loops loops. A profile that
// validates only fails to write on I/O errors.
func (p *Profile) Validate(loops int) error {
	if _, err := codec.StringToWords(p.Name, profileNameLength); err != nil {
		return fmt.Errorf("watlow: profile name: %w", err)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("watlow: profile has no steps")
	}
	if len(p.SoakDeviation) > loops {
		return fmt.Errorf("watlow: %d soak deviations for %d loops", len(p.SoakDeviation), loops)
	}
	for i, s := range p.Steps {
		if err := s.validate(loops, len(p.Steps)); err != nil {
			return fmt.Errorf("watlow: step %d: %w", i+1, err)
		}
		if s.Type == StepEnd && i != len(p.Steps)-1 {
			return fmt.Errorf("watlow: step %d: end step before the last step", i+1)
		}
	}
	return nil
}

func (s *Step) validate(loops, steps int) error {
	if !s.Type.hasLoops() && s.Type != StepWait && s.Type != StepJump {
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	if s.Duration < 0 {
		return fmt.Errorf("negative duration %v", s.Duration)
	}
	if s.Type.hasLoops() && len(s.Loops) != loops {
		return fmt.Errorf("%d loop targets for %d loops", len(s.Loops), loops)
	}
	if s.Type == StepEnd {
		for _, l := range s.Loops {
			switch l.EndMode {
			case EndUser, EndOff, EndHold:
			default:
				return fmt.Errorf("unknown end mode %q", l.EndMode)
			}
		}
	}
	if s.Type == StepJump {
		if s.Jump == nil {
			return fmt.Errorf("jump step without a target")
		}
		if err := chamber.CheckIndex("jump step", s.Jump.Step, 1, steps); err != nil {
			return err
		}
		if s.Jump.Count < 0 {
			return fmt.Errorf("negative jump count %d", s.Jump.Count)
		}
	}
	for _, w := range s.Waits {
		if err := chamber.CheckIndex("wait", w.Number, 1, 4); err != nil {
			return err
		}
		if _, ok := Values.Code(w.Condition); !ok {
			return fmt.Errorf("unknown wait condition %q", w.Condition)
		}
	}
	if len(s.Events) > profileEvents {
		return fmt.Errorf("%d events, at most %d", len(s.Events), profileEvents)
	}
	for _, e := range s.Events {
		switch e {
		case "", "on", "off", "nc":
		default:
			return fmt.Errorf("event value %q must be on, off or nc", e)
		}
	}
	return nil
}

// profileLoops returns the loop map, which profiles address by position.
func (c *F4T) profileLoops() ([]chamber.LoopRef, error) {
	loops := c.Loops()
	if len(loops) > maxProfileLoops {
		return nil, fmt.Errorf("watlow: profiles hold at most %d loops, %d configured", maxProfileLoops, len(loops))
	}
	return loops, nil
}

func (c *F4T) checkProgram(n int) error {
	if err := chamber.CheckIndex("profile", n, 1, maxPrograms); err != nil {
		return err
	}
	if !c.config().Profiles {
		return chamber.ErrNotSupported
	}
	return nil
}

// ProgramName reads the name of profile n.
func (c *F4T) ProgramName(ctx context.Context, n int) (string, error) {
	if err := c.checkProgram(n); err != nil {
		return "", err
	}
	return c.readString(ctx, profileNames+uint16(n-1)*profileNameStride, profileNameLength)
}

// ProgramSteps reads the step count of profile n, 0 if it is empty.
func (c *F4T) ProgramSteps(ctx context.Context, n int) (int, error) {
	if err := chamber.CheckIndex("profile", n, 1, maxPrograms); err != nil {
		return 0, err
	}
	if err := c.writeWord(ctx, editSelect, uint16(n)); err != nil {
		return 0, err
	}
	w, err := c.word(ctx, editSteps)
	return int(w), err
}

// Programs lists the names of all profiles, empty ones included.
func (c *F4T) Programs(ctx context.Context) ([]chamber.ProgramInfo, error) {
	if !c.config().Profiles {
		return nil, chamber.ErrNotSupported
	}
	out := make([]chamber.ProgramInfo, 0, maxPrograms)
	for n := 1; n <= maxPrograms; n++ {
		name, err := c.ProgramName(ctx, n)
		if err != nil {
			return nil, err
		}
		out = append(out, chamber.ProgramInfo{Number: n, Name: name})
	}
	return out, nil
}

// emptyProfile is the template returned for profile 0.
func emptyProfile(loops int) *Profile {
	step := Step{Type: StepSoak, Loops: make([]StepLoop, loops)}
	for i := range step.Loops {
		step.Loops[i].Enable = true
	}
	return &Profile{SoakDeviation: make([]float64, loops), Steps: []Step{step}}
}

// Program reads profile n. Profile 0 returns an empty template.
func (c *F4T) Program(ctx context.Context, n int) (chamber.Program, error) {
	loops, err := c.profileLoops()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return emptyProfile(len(loops)), nil
	}
	if err := c.checkProgram(n); err != nil {
		return nil, err
	}
	steps, err := c.ProgramSteps(ctx, n)
	if err != nil {
		return nil, err
	}
	if steps == 0 {
		return nil, &chamber.ProgramNotFoundError{Number: n}
	}
	p := &Profile{Steps: make([]Step, 0, steps)}
	if p.Name, err = c.readString(ctx, editName, profileNameLength); err != nil {
		return nil, err
	}
	log, err := c.word(ctx, editLog)
	if err != nil {
		return nil, err
	}
	p.Log = log == codeYes
	for i := range loops {
		dev, err := c.readFloat(ctx, editSoakDev+uint16(i)*2)
		if err != nil {
			return nil, err
		}
		p.SoakDeviation = append(p.SoakDeviation, dev)
	}
	for i := 0; i < steps; i++ {
		s, err := c.readStep(ctx, uint16(i)*stepStride, loops)
		if err != nil {
			return nil, fmt.Errorf("watlow: profile %d step %d: %w", n, i+1, err)
		}
		p.Steps = append(p.Steps, s)
	}
	return p, nil
}

// eventCode picks the state of profile event e out of the 32 registers
// read from stepSoak.
func eventCode(w []uint16, e int) uint16 {
	if e <= 4 {
		return w[8+(e-1)*2]
	}
	return w[24+(e-5)*2]
}

func (c *F4T) readStep(ctx context.Context, off uint16, loops []chamber.LoopRef) (Step, error) {
	name, err := c.readName(ctx, stepType+off)
	if err != nil {
		return Step{}, err
	}
	s := Step{Type: StepType(name)}
	gse, err := c.words(ctx, stepSoak+off, 32)
	if err != nil {
		return Step{}, err
	}
	s.Events = make([]string, profileEvents)
	for e := 1; e <= profileEvents; e++ {
		switch eventCode(gse, e) {
		case codeOn:
			s.Events[e-1] = "on"
		case codeOff:
			s.Events[e-1] = "off"
		default:
			s.Events[e-1] = "nc"
		}
	}

	if s.Type.hasDuration() {
		d, err := c.words(ctx, stepHours+off, 6)
		if err != nil {
			return Step{}, err
		}
		s.Duration = hms(d[0], d[2], d[4])
	}

	switch s.Type {
	case StepWait:
		d, err := c.words(ctx, stepWait+off, 16)
		if err != nil {
			return Step{}, err
		}
		for j, input := range c.config().Waits {
			if input == "" || j >= 4 {
				continue
			}
			cond, ok := Values.Name(d[j*4])
			if !ok {
				return Step{}, fmt.Errorf("unknown wait condition %d", d[j*4])
			}
			s.Waits = append(s.Waits, Wait{Number: j + 1, Input: input, Condition: cond, Value: c.toFloat(d[2+j*4:])})
		}
		return s, nil
	case StepJump:
		d, err := c.words(ctx, stepJumpStep+off, 3)
		if err != nil {
			return Step{}, err
		}
		s.Jump = &Jump{Step: int(d[0]), Count: int(d[2])}
		return s, nil
	}
	if !s.Type.hasLoops() {
		return s, nil
	}

	var params []uint16
	switch s.Type {
	case StepInstant, StepRampTime:
		params, err = c.words(ctx, stepTarget+off, 8)
	case StepRampRate:
		params, err = c.words(ctx, stepRate+off, 16)
	case StepEnd:
		params, err = c.words(ctx, stepEndMode+off, 7)
	}
	if err != nil {
		return Step{}, err
	}
	ctl := c.config().CascadeCtlEvents
	for j, loop := range loops {
		l := StepLoop{Enable: true, GuaranteedSoak: gse[j*2] == codeOn}
		switch s.Type {
		case StepInstant, StepRampTime:
			l.Target = c.toFloat(params[j*2:])
		case StepRampRate:
			l.Rate = c.toFloat(params[j*2:])
			l.Target = c.toFloat(params[8+j*2:])
		case StepEnd:
			l.GuaranteedSoak = false
			switch params[j*2] {
			case codeUser:
				l.EndMode = EndUser
			case codeOff:
				l.EndMode = EndOff
			default:
				l.EndMode = EndHold
			}
			// end steps carry no loop events
			l.Enable = l.EndMode != EndOff
			s.Loops = append(s.Loops, l)
			continue
		}
		if ev := c.loopEvent(loop); ev > 0 && ev <= profileEvents {
			l.Enable = eventCode(gse, ev) == codeOn
		}
		if loop.Kind == chamber.Cascade {
			if ev := eventAt(ctl, loop.Number); ev > 0 && ev <= profileEvents {
				l.Cascade = eventCode(gse, ev) == codeOn
			}
		}
		s.Loops = append(s.Loops, l)
	}
	return s, nil
}

// stickyWriter skips every write after the first failure.
type stickyWriter struct {
	c   *F4T
	ctx context.Context
	err error
}

func (w *stickyWriter) word(address, value uint16) {
	if w.err == nil {
		w.err = w.c.writeWord(w.ctx, address, value)
	}
}

func (w *stickyWriter) float(address uint16, value float64) {
	if w.err == nil {
		w.err = w.c.writeFloat(w.ctx, address, value)
	}
}

func (w *stickyWriter) event(off uint16, e int, value string) {
	if e < 1 || e > profileEvents {
		return
	}
	code := Values.MustCode("nc")
	switch value {
	case "on":
		code = codeOn
	case "off":
		code = codeOff
	}
	if e <= 4 {
		w.word(stepEvents+off+uint16(e-1)*2, code)
	} else {
		w.word(stepEvents5+off+uint16(e-5)*2, code)
	}
}

func onOffName(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

// SetProgram writes p as profile n. If a write fails the partially written
// profile is deleted.
func (c *F4T) SetProgram(ctx context.Context, n int, prog chamber.Program) error {
	if err := c.checkProgram(n); err != nil {
		return err
	}
	p, ok := prog.(*Profile)
	if !ok {
		return fmt.Errorf("watlow: cannot write program of type %T", prog)
	}
	loops, err := c.profileLoops()
	if err != nil {
		return err
	}
	if err := p.Validate(len(loops)); err != nil {
		return err
	}
	cfg := c.config()

	w := &stickyWriter{c: c, ctx: ctx}
	w.word(editSelect, uint16(n))
	w.word(editAction, codeAdd)
	if w.err == nil {
		w.err = c.writeString(ctx, editName, p.Name, profileNameLength)
	}
	log := codeNo
	if p.Log {
		log = codeYes
	}
	w.word(editLog, log)
	for i, dev := range p.SoakDeviation {
		w.float(editSoakDev+uint16(i)*2, dev)
	}
	for i := range p.Steps {
		c.writeStep(w, uint16(i)*stepStride, &p.Steps[i], loops, cfg)
	}
	if w.err == nil {
		return nil
	}

	if derr := c.writeWord(context.WithoutCancel(ctx), editAction, codeDelete); derr != nil {
		return fmt.Errorf("watlow: writing profile %d: %w (removing it failed: %v)", n, w.err, derr)
	}
	return fmt.Errorf("watlow: writing profile %d: %w", n, w.err)
}

func (c *F4T) writeStep(w *stickyWriter, off uint16, s *Step, loops []chamber.LoopRef, cfg Config) {
	w.word(stepType+off, Values.MustCode(string(s.Type)))
	for e := 1; e <= profileEvents; e++ {
		value := "nc"
		if e <= len(s.Events) && s.Events[e-1] != "" {
			value = s.Events[e-1]
		}
		w.event(off, e, value)
	}

	switch s.Type {
	case StepJump:
		w.word(stepJumpStep+off, uint16(s.Jump.Step))
		w.word(stepJumpCount+off, uint16(s.Jump.Count))
	case StepWait:
		for _, wait := range s.Waits {
			base := stepWait + off + uint16(wait.Number-1)*4
			w.word(base, Values.MustCode(wait.Condition))
			w.float(base+2, wait.Value)
		}
	}

	if s.Type.hasLoops() {
		run := s.Type != StepEnd
		for i, loop := range loops {
			l := s.Loops[i]
			switch s.Type {
			case StepRampRate:
				w.float(stepRate+off+uint16(i)*2, l.Rate)
				w.float(stepTarget+off+uint16(i)*2, l.Target)
			case StepInstant, StepRampTime:
				w.float(stepTarget+off+uint16(i)*2, l.Target)
			}
			if s.Type == StepEnd {
				mode := codeUser
				switch l.EndMode {
				case EndOff:
					mode = codeOff
				case EndHold:
					mode = Values.MustCode("hold")
				}
				if l.EndMode != EndOff {
					run = true
				}
				w.word(stepEndMode+off+uint16(i)*2, mode)
				continue
			}
			w.word(stepSoak+off+uint16(i)*2, onOff(l.GuaranteedSoak))
			w.event(off, c.loopEvent(loop), onOffName(l.Enable))
			if loop.Kind == chamber.Cascade {
				w.event(off, eventAt(cfg.CascadeCtlEvents, loop.Number), onOffName(l.Cascade))
			}
		}
		// the run event stays on unless every loop turns off at the end
		w.event(off, cfg.CondEvent, onOffName(run))
	} else {
		for _, e := range sortedEvents(cfg.LoopEvents, cfg.CascadeEvents, cfg.CascadeCtlEvents) {
			w.event(off, e, "nc")
		}
	}

	if s.Type.hasDuration() {
		d := s.Duration
		w.word(stepSeconds+off, uint16(d/time.Second%60))
		w.word(stepMinutes+off, uint16(d/time.Minute%60))
		w.word(stepHours+off, uint16(d/time.Hour))
	}
}

// DeleteProgram deletes profile n.
func (c *F4T) DeleteProgram(ctx context.Context, n int) error {
	if err := c.checkProgram(n); err != nil {
		return err
	}
	if err := c.writeWord(ctx, editSelect, uint16(n)); err != nil {
		return err
	}
	if err := c.writeWord(ctx, editAction, codeDelete); err != nil {
		return fmt.Errorf("watlow: deleting profile %d: %w", n, err)
	}
	return nil
}
