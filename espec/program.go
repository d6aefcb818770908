package espec

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/ascii"
)

// Program end actions.
const (
	EndOff      = "OFF"
	EndConstant = "CONSTANT"
	EndStandby  = "STANDBY"
	EndRun      = "RUN"
)

// notStored is the rejection of a read of an empty program slot.
const notStored = "DATA NOT READY"

// Counter repeats steps Start through End, Cycles times.
type Counter struct {
	Start  int `yaml:"start"`
	End    int `yaml:"end"`
	Cycles int `yaml:"cycles"`
}

// Detail is the operating range of a loop while the program runs and the
// condition it starts from. Mode is "OFF", "PV" or "SV"; Setpoint applies
// to "SV".
type Detail struct {
	Range    *chamber.Range `yaml:"range,omitempty"`
	Mode     string         `yaml:"mode,omitempty"`
	Setpoint *float64       `yaml:"setpoint,omitempty"`
}

// Program is a P300 or SCP-220 program.
type Program struct {
	Name string `yaml:"name"`
	// End is one of EndOff, EndConstant, EndStandby, EndRun. With EndRun
	// program Next runs when this one ends.
	End      string  `yaml:"end"`
	Next     int     `yaml:"next_prgm,omitempty"`
	CounterA Counter `yaml:"counter_a"`
	CounterB Counter `yaml:"counter_b"`
	// Temperature and Humidity are not stored by the SCP-220.
	Temperature *Detail `yaml:"tempDetail,omitempty"`
	Humidity    *Detail `yaml:"humiDetail,omitempty"`
	Steps       []Step  `yaml:"steps"`
}

// Step is one program step. Durations have minute resolution.
type Step struct {
	Duration       time.Duration         `yaml:"time"`
	Paused         bool                  `yaml:"paused"`
	GuaranteedSoak bool                  `yaml:"granty"`
	Refrigeration  chamber.Refrigeration `yaml:"refrig"`
	Temperature    StepTemperature       `yaml:"temperature"`
	Humidity       *StepHumidity         `yaml:"humidity,omitempty"`
	// Relays holds time signals 1-12.
	Relays []bool `yaml:"relay"`
}

// StepTemperature is the temperature target of a step. Cascade and
// Deviation are set on chambers with product control.
type StepTemperature struct {
	Setpoint  float64            `yaml:"setpoint"`
	Ramp      bool               `yaml:"ramp"`
	Cascade   *bool              `yaml:"enable_cascade,omitempty"`
	Deviation *chamber.Deviation `yaml:"deviation,omitempty"`
}

type StepHumidity struct {
	Setpoint float64 `yaml:"setpoint"`
	Enable   bool    `yaml:"enable"`
	Ramp     bool    `yaml:"ramp"`
}

func (p *Program) ProgramName() string {
	return p.Name
}

func (p *Program) StepCount() int {
	return len(p.Steps)
}

// Validate checks p for a controller with humidity and product control as
// given, holding programs 1 through programs.
func (p *Program) Validate(humidity, cascade bool, programs int) error {
	if strings.ContainsAny(p.Name, ",;<>") {
		return fmt.Errorf("espec: program name %q contains a separator", p.Name)
	}
	for _, r := range p.Name {
		if r < 0x20 || r > 0x7e {
			return fmt.Errorf("espec: program name %q is not printable ASCII", p.Name)
		}
	}
	if err := chamber.CheckIndex("program step count", len(p.Steps), 1, maxSteps); err != nil {
		return err
	}
	switch p.End {
	case EndOff, EndConstant, EndStandby:
	case EndRun:
		if err := chamber.CheckIndex("next program", p.Next, 1, programs); err != nil {
			return err
		}
	default:
		return fmt.Errorf("espec: unknown program end action %q", p.End)
	}
	for _, cnt := range []struct {
		name string
		Counter
	}{{"A", p.CounterA}, {"B", p.CounterB}} {
		if cnt.Cycles < 0 {
			return fmt.Errorf("espec: counter %s has negative cycles", cnt.name)
		}
		if cnt.Cycles > 0 && (cnt.Start < 1 || cnt.Start > cnt.End || cnt.End > len(p.Steps)) {
			return fmt.Errorf("espec: counter %s steps %d-%d outside 1-%d", cnt.name, cnt.Start, cnt.End, len(p.Steps))
		}
	}
	for i := range p.Steps {
		if err := p.Steps[i].validate(humidity, cascade); err != nil {
			return fmt.Errorf("espec: step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s *Step) validate(humidity, cascade bool) error {
	if s.Duration < 0 || s.Duration >= 100*time.Hour || s.Duration%time.Minute != 0 {
		return fmt.Errorf("duration %v is not whole minutes below 100h", s.Duration)
	}
	if _, err := refrigerationCode(s.Refrigeration); err != nil {
		return err
	}
	if len(s.Relays) > maxEvents {
		return fmt.Errorf("%d relays, at most %d", len(s.Relays), maxEvents)
	}
	if s.Humidity != nil && s.Humidity.Enable && !humidity {
		return errors.New("humidity is not installed")
	}
	if (s.Temperature.Cascade != nil || s.Temperature.Deviation != nil) && !cascade {
		return errors.New("product temperature control is not installed")
	}
	return nil
}

// checkProgram accepts the program slots, and 0 with template.
func (c *P300) checkProgram(n int, template bool) error {
	first := 1
	if template {
		first = 0
	}
	return chamber.CheckIndex("program", n, first, c.totalPrograms())
}

// notFound turns the rejection of an empty slot into ProgramNotFoundError.
func notFound(n int, err error) error {
	var rerr *ascii.RejectedError
	if errors.As(err, &rerr) && rerr.Message == notStored {
		return &chamber.ProgramNotFoundError{Number: n, Err: err}
	}
	return err
}

// programQuery is the program data command, with product control fields
// on chambers that have it.
func (c *P300) programQuery(n int) string {
	if c.config().Cascades > 0 {
		return fmt.Sprintf("PRGM DATA PTC?,%s:%d", c.memory(n), n)
	}
	return fmt.Sprintf("PRGM DATA?,%s:%d", c.memory(n), n)
}

func (c *P300) programData(ctx context.Context, n int) (programData, error) {
	command := fmt.Sprintf("PRGM DATA?,%s:%d", c.memory(n), n)
	response, err := c.query(ctx, command)
	if err != nil {
		return programData{}, notFound(n, err)
	}
	return parseProgramData(command, response)
}

// ProgramName reads the name of program n.
func (c *P300) ProgramName(ctx context.Context, n int) (string, error) {
	if err := c.checkProgram(n, false); err != nil {
		return "", err
	}
	d, err := c.programData(ctx, n)
	return d.name, err
}

// ProgramSteps reads the step count of program n.
func (c *P300) ProgramSteps(ctx context.Context, n int) (int, error) {
	if err := c.checkProgram(n, false); err != nil {
		return 0, err
	}
	d, err := c.programData(ctx, n)
	return d.steps, err
}

// Programs lists every program slot. Empty slots have no name.
func (c *P300) Programs(ctx context.Context) ([]chamber.ProgramInfo, error) {
	total := c.totalPrograms()
	programs := make([]chamber.ProgramInfo, 0, total)
	for n := 1; n <= total; n++ {
		command := fmt.Sprintf("PRGM USE?,%s:%d", c.memory(n), n)
		info := chamber.ProgramInfo{Number: n}
		response, err := c.query(ctx, command)
		switch {
		case err == nil:
			if info.Name, err = parseProgramUse(command, response); err != nil {
				return nil, err
			}
		case !rejected(err):
			return nil, err
		}
		programs = append(programs, info)
	}
	return programs, nil
}

// Program reads program n. Program 0 is a one step template for a new
// program.
func (c *P300) Program(ctx context.Context, n int) (chamber.Program, error) {
	p, err := c.readProgram(ctx, n)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (c *P300) readProgram(ctx context.Context, n int) (*Program, error) {
	if err := c.checkProgram(n, true); err != nil {
		return nil, err
	}
	if n == 0 {
		return c.template(ctx)
	}
	cfg := c.config()
	query := c.programQuery(n)
	response, err := c.query(ctx, query)
	if err != nil {
		return nil, notFound(n, err)
	}
	d, err := parseProgramData(query, response)
	if err != nil {
		return nil, err
	}
	p := &Program{
		Name:     d.name,
		End:      d.end,
		Next:     d.next,
		CounterA: d.counterA,
		CounterB: d.counterB,
		Steps:    make([]Step, 0, d.steps),
	}
	if !c.scp220() {
		command := query + ",DETAIL"
		response, err := c.query(ctx, command)
		if err != nil {
			return nil, err
		}
		if p.Temperature, p.Humidity, err = parseProgramDetail(command, response); err != nil {
			return nil, err
		}
	}
	for i := 1; i <= d.steps; i++ {
		command := fmt.Sprintf("%s,STEP%d", query, i)
		response, err := c.query(ctx, command)
		if err != nil {
			return nil, err
		}
		s, err := parseStep(command, response, cfg.Model == ModelSCP220)
		if err != nil {
			return nil, err
		}
		p.Steps = append(p.Steps, s)
	}
	return p, nil
}

// template is a program holding one hour at 0 °C within the present
// temperature range, humidity off.
func (c *P300) template(ctx context.Context) (*Program, error) {
	cfg := c.config()
	temp, err := c.Range(ctx, chamber.LoopRef{Kind: chamber.Loop, Number: temperatureLoop})
	if err != nil {
		return nil, err
	}
	p := &Program{
		End:         EndOff,
		Temperature: &Detail{Mode: "OFF", Range: &temp},
		Steps: []Step{{
			Duration:      time.Hour,
			Refrigeration: chamber.Refrigeration{Mode: "auto"},
			Relays:        make([]bool, maxEvents),
		}},
	}
	if cfg.Cascades > 0 {
		ptc, err := c.ptcState(ctx)
		if err != nil {
			return nil, err
		}
		off := false
		p.Steps[0].Temperature.Cascade = &off
		p.Steps[0].Temperature.Deviation = &chamber.Deviation{Positive: ptc.positive, Negative: ptc.negative}
	}
	if c.humidity(cfg) {
		humi, err := c.Range(ctx, chamber.LoopRef{Kind: chamber.Loop, Number: humidityLoop})
		if err != nil {
			return nil, err
		}
		p.Humidity = &Detail{Mode: "OFF", Range: &humi}
		p.Steps[0].Humidity = &StepHumidity{}
	}
	return p, nil
}

// SetProgram writes prog as program n in one edit session. If any command
// fails the edit is cancelled, leaving the stored program as it was.
func (c *P300) SetProgram(ctx context.Context, n int, prog chamber.Program) error {
	if err := chamber.CheckIndex("writable program", n, 1, c.writablePrograms()); err != nil {
		return err
	}
	p, ok := prog.(*Program)
	if !ok {
		return fmt.Errorf("espec: cannot write program of type %T", prog)
	}
	cfg := c.config()
	if err := p.Validate(c.humidity(cfg), cfg.Cascades > 0, c.totalPrograms()); err != nil {
		return err
	}
	if err := c.send(ctx, "PRGM DATA WRITE, PGM%d, EDIT START", n); err != nil {
		return err
	}
	err := c.writeProgram(ctx, n, p)
	if err == nil {
		err = c.send(ctx, "PRGM DATA WRITE, PGM%d, EDIT END", n)
		if err == nil {
			return nil
		}
	}
	if cerr := c.send(context.WithoutCancel(ctx), "PRGM DATA WRITE, PGM%d, EDIT CANCEL", n); cerr != nil {
		return fmt.Errorf("espec: writing program %d: %w (cancelling the edit failed: %v)", n, err, cerr)
	}
	return fmt.Errorf("espec: writing program %d: %w", n, err)
}

func (c *P300) writeProgram(ctx context.Context, n int, p *Program) error {
	humidity := false
	for i := range p.Steps {
		if err := c.send(ctx, "%s", c.stepCommand(n, i+1, &p.Steps[i])); err != nil {
			return err
		}
		if h := p.Steps[i].Humidity; h != nil && h.Enable {
			humidity = true
		}
	}
	for _, command := range c.detailCommands(n, p, humidity) {
		if err := c.send(ctx, "%s", command); err != nil {
			return err
		}
	}
	return nil
}

func (c *P300) stepCommand(n, number int, s *Step) string {
	var b strings.Builder
	fmt.Fprintf(&b, "PRGM DATA WRITE, PGM%d, STEP%d", n, number)
	fmt.Fprintf(&b, ",TIME%d:%d", int(s.Duration/time.Hour), int(s.Duration%time.Hour/time.Minute))
	fmt.Fprintf(&b, ",PAUSE %s", upperOnOff(s.Paused))
	ref, _ := refrigerationCode(s.Refrigeration)
	fmt.Fprintf(&b, ",%s", ref)
	fmt.Fprintf(&b, ",GRANTY %s", upperOnOff(s.GuaranteedSoak))
	fmt.Fprintf(&b, ",TEMP%0.1f,TRAMP%s", s.Temperature.Setpoint, upperOnOff(s.Temperature.Ramp))
	if s.Temperature.Cascade != nil {
		fmt.Fprintf(&b, ",PTC%s", upperOnOff(*s.Temperature.Cascade))
	}
	if dev := s.Temperature.Deviation; dev != nil {
		negative := dev.Negative
		if c.scp220() && negative < 0 {
			negative = -negative
		}
		fmt.Fprintf(&b, ",DEVP%0.1f,DEVN%0.1f", dev.Positive, negative)
	}
	if h := s.Humidity; h != nil {
		if h.Enable {
			fmt.Fprintf(&b, ",HUMI%0.0f,HRAMP%s", h.Setpoint, upperOnOff(h.Ramp))
		} else {
			b.WriteString(",HUMIOFF")
		}
	}
	on, off := relayLists(s.Relays)
	if len(on) > 0 {
		fmt.Fprintf(&b, ",RELAY ON%s", strings.Join(on, "."))
	}
	if len(off) > 0 {
		fmt.Fprintf(&b, ",RELAY OFF%s", strings.Join(off, "."))
	}
	return b.String()
}

// detailCommands writes the counters, name, end action and loop details.
// The humidity range is left out when no step controls humidity.
func (c *P300) detailCommands(n int, p *Program, humidity bool) []string {
	var commands []string
	a, b := p.CounterA, p.CounterB
	switch {
	case a.Cycles > 0 && b.Cycles > 0:
		commands = append(commands, fmt.Sprintf("PRGM DATA WRITE,PGM%d,COUNT,A(%d.%d.%d),B(%d.%d.%d)", n, a.Start, a.End, a.Cycles, b.Start, b.End, b.Cycles))
	case a.Cycles > 0:
		commands = append(commands, fmt.Sprintf("PRGM DATA WRITE,PGM%d,COUNT,A(%d.%d.%d)", n, a.Start, a.End, a.Cycles))
	case b.Cycles > 0:
		commands = append(commands, fmt.Sprintf("PRGM DATA WRITE,PGM%d,COUNT,B(%d.%d.%d)", n, b.Start, b.End, b.Cycles))
	}
	if p.Name != "" {
		commands = append(commands, fmt.Sprintf("PRGM DATA WRITE, PGM%d, NAME,%s", n, p.Name))
	}
	end := p.End
	if end == EndRun {
		end = fmt.Sprintf("RUN,PTN%d", p.Next)
	}
	commands = append(commands, fmt.Sprintf("PRGM DATA WRITE, PGM%d, END,%s", n, end))
	if d := p.Temperature; d != nil {
		if d.Range != nil {
			commands = append(commands,
				fmt.Sprintf("PRGM DATA WRITE, PGM%d, HTEMP,%0.1f", n, d.Range.Max),
				fmt.Sprintf("PRGM DATA WRITE, PGM%d, LTEMP,%0.1f", n, d.Range.Min))
		}
		if d.Mode != "" {
			commands = append(commands, fmt.Sprintf("PRGM DATA WRITE, PGM%d, PRE MODE, TEMP,%s", n, d.Mode))
		}
		if d.Mode == "SV" && d.Setpoint != nil {
			commands = append(commands, fmt.Sprintf("PRGM DATA WRITE, PGM%d, PRE TSV,%0.1f", n, *d.Setpoint))
		}
	}
	if d := p.Humidity; d != nil {
		if d.Range != nil && humidity {
			commands = append(commands,
				fmt.Sprintf("PRGM DATA WRITE, PGM%d, HHUMI,%0.0f", n, d.Range.Max),
				fmt.Sprintf("PRGM DATA WRITE, PGM%d, LHUMI,%0.0f", n, d.Range.Min))
		}
		if d.Mode != "" {
			commands = append(commands, fmt.Sprintf("PRGM DATA WRITE, PGM%d, PRE MODE, HUMI,%s", n, d.Mode))
		}
		if d.Mode == "SV" && d.Setpoint != nil {
			commands = append(commands, fmt.Sprintf("PRGM DATA WRITE, PGM%d, PRE HSV,%0.0f", n, *d.Setpoint))
		}
	}
	return commands
}

func upperOnOff(v bool) string {
	if v {
		return "ON"
	}
	return "OFF"
}

// DeleteProgram erases program n.
func (c *P300) DeleteProgram(ctx context.Context, n int) error {
	if err := chamber.CheckIndex("writable program", n, 1, c.writablePrograms()); err != nil {
		return err
	}
	return c.send(ctx, "PRGM ERASE,%s:%d", c.memory(n), n)
}

// errTimeRemaining is returned when the counters of a program never let
// the walk reach its end.
var errTimeRemaining = errors.New("espec: program time remaining does not converge")

// timeRemaining walks p from the step m reports, repeating steps as the
// counters dictate, and adds the remaining time of the current step to
// the time of every step still to run.
func timeRemaining(p *Program, m programMonitor) (time.Duration, error) {
	a, b := p.CounterA, p.CounterB
	leftA, leftB := m.counterA, m.counterB
	// a is the inner or the only counter.
	if (a.End >= b.End && a.Start <= b.Start) || (a.Cycles == 0 && b.Cycles != 0) {
		a, b = b, a
		leftA, leftB = leftB, leftA
	}
	steps := len(p.Steps)
	limit := steps
	if a.Cycles > 0 {
		limit *= a.Cycles + 2
	}
	if b.Cycles > 0 {
		limit *= b.Cycles + 2
	}
	limit += 2

	total := m.remaining
	step := m.step - 1
	prevB := leftB
	for step < steps && limit > 0 {
		limit--
		switch {
		case a.Start == b.Start && a.Cycles > 0 && b.Cycles > 0 && step == b.Start-1:
			// Entering the outer loop again restarts the inner one.
			if prevB != leftB {
				leftA = a.Cycles
			}
		case step == b.Start-1 && b.Cycles > 0:
			leftA = a.Cycles
		}
		switch {
		case step == a.End-1 && a.Cycles > 0 && leftA > 0:
			step = a.Start - 1
			leftA--
		case step == b.End-1 && b.Cycles > 0 && leftB > 0:
			step = b.Start - 1
			prevB = leftB
			leftB--
		default:
			prevB = leftB
			step++
		}
		if step < steps {
			total += p.Steps[step].Duration
		}
	}
	if limit == 0 {
		return 0, errTimeRemaining
	}
	return total, nil
}
