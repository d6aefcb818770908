package espec

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/ascii"
)

// statuses maps the answers of "MODE?,DETAIL".
var statuses = map[string]chamber.Status{
	"OFF":              chamber.StatusOff,
	"STANDBY":          chamber.StatusStandby,
	"CONSTANT":         chamber.StatusConstant,
	"RUN":              chamber.StatusProgramRunning,
	"RUN PAUSE":        chamber.StatusProgramPaused,
	"RUN END HOLD":     chamber.StatusProgramEndHold,
	"RMT RUN":          chamber.StatusRemoteProgramRunning,
	"RMT RUN PAUSE":    chamber.StatusRemoteProgramPaused,
	"RMT RUN END HOLD": chamber.StatusRemoteProgramEndHold,
}

// Event reads time signal n, 1-12.
func (c *P300) Event(ctx context.Context, n int) (chamber.Toggle, error) {
	if err := chamber.CheckIndex("event", n, 1, maxEvents); err != nil {
		return chamber.Toggle{}, err
	}
	cur, err := c.query(ctx, "RELAY?")
	if err != nil {
		return chamber.Toggle{}, err
	}
	con, err := c.query(ctx, "CONSTANT SET?,RELAY")
	if err != nil {
		return chamber.Toggle{}, err
	}
	return chamber.Toggle{Constant: parseRelays(con)[n-1], Current: parseRelays(cur)[n-1]}, nil
}

func (c *P300) SetEvent(ctx context.Context, n int, value bool) error {
	if err := chamber.CheckIndex("event", n, 1, maxEvents); err != nil {
		return err
	}
	return c.send(ctx, "RELAY,%s,%d", strings.ToUpper(onOff(value)), n)
}

func (c *P300) monitor(ctx context.Context) (monitor, error) {
	const command = "MON?"
	response, err := c.query(ctx, command)
	if err != nil {
		return monitor{}, err
	}
	return parseMonitor(command, response)
}

// Status reads the operating mode. Any alarm takes priority.
func (c *P300) Status(ctx context.Context) (chamber.Status, error) {
	m, err := c.monitor(ctx)
	if err != nil {
		return "", err
	}
	if m.alarms > 0 {
		return chamber.StatusAlarm, nil
	}
	command := "MODE?,DETAIL"
	if c.scp220() {
		command = "MODE?"
	}
	response, err := c.query(ctx, command)
	if err != nil {
		return "", err
	}
	status, ok := statuses[response]
	if !ok {
		return "", &ResponseError{Command: command, Response: response}
	}
	return status, nil
}

// Alarms reads the active alarm codes. Every other known code is inactive.
func (c *P300) Alarms(ctx context.Context) (chamber.AlarmStatus, error) {
	const command = "ALARM?"
	response, err := c.query(ctx, command)
	if err != nil {
		return chamber.AlarmStatus{}, err
	}
	active, err := parseInts(command, response)
	if err != nil {
		return chamber.AlarmStatus{}, err
	}
	status := chamber.AlarmStatus{Active: active, Inactive: []int{}}
	for _, code := range alarmCodes {
		if !contains(active, code) {
			status.Inactive = append(status.Inactive, code)
		}
	}
	return status, nil
}

func contains(values []int, v int) bool {
	for _, x := range values {
		if x == v {
			return true
		}
	}
	return false
}

func (c *P300) StartConstant(ctx context.Context) error {
	return c.send(ctx, "MODE,CONSTANT")
}

func (c *P300) Stop(ctx context.Context) error {
	return c.send(ctx, "MODE,STANDBY")
}

// StartProgram runs program n from step.
func (c *P300) StartProgram(ctx context.Context, n, step int) error {
	if err := chamber.CheckIndex("program", n, 1, c.totalPrograms()); err != nil {
		return err
	}
	if err := chamber.CheckIndex("step", step, 1, maxSteps); err != nil {
		return err
	}
	return c.send(ctx, "PRGM,RUN,%s:%d,STEP%d", c.memory(n), n, step)
}

func (c *P300) PauseProgram(ctx context.Context) error {
	return c.send(ctx, "PRGM,PAUSE")
}

func (c *P300) ResumeProgram(ctx context.Context) error {
	return c.send(ctx, "PRGM,CONTINUE")
}

func (c *P300) AdvanceProgram(ctx context.Context) error {
	return c.send(ctx, "PRGM,ADVANCE")
}

func (c *P300) OperationModes() []string {
	return []string{chamber.ModeStandby, chamber.ModeOff, chamber.ModeConstant, chamber.ModeProgram}
}

func (c *P300) programSet(ctx context.Context) (programSet, error) {
	const command = "PRGM SET?"
	response, err := c.query(ctx, command)
	if err != nil {
		return programSet{}, err
	}
	return parseProgramSet(command, response)
}

func (c *P300) programMonitor(ctx context.Context) (programMonitor, error) {
	const command = "PRGM MON?"
	response, err := c.query(ctx, command)
	if err != nil {
		return programMonitor{}, err
	}
	return parseProgramMonitor(command, response)
}

// CurrentProgram reads the number of the program loaded for running.
func (c *P300) CurrentProgram(ctx context.Context) (int, error) {
	p, err := c.programSet(ctx)
	return p.number, err
}

func (c *P300) CurrentStep(ctx context.Context) (int, error) {
	m, err := c.programMonitor(ctx)
	return m.step, err
}

// StepTimeRemaining has minute resolution.
func (c *P300) StepTimeRemaining(ctx context.Context) (time.Duration, error) {
	m, err := c.programMonitor(ctx)
	return m.remaining, err
}

// ProgramTimeRemaining walks the running program from the current step,
// following the counters, and adds up the step times.
func (c *P300) ProgramTimeRemaining(ctx context.Context) (time.Duration, error) {
	set, err := c.programSet(ctx)
	if err != nil {
		return 0, err
	}
	p, err := c.readProgram(ctx, set.number)
	if err != nil {
		return 0, err
	}
	m, err := c.programMonitor(ctx)
	if err != nil {
		return 0, err
	}
	return timeRemaining(p, m)
}

// ProgramCounters reads counters A and B of the running program with the
// cycles left on each.
func (c *P300) ProgramCounters(ctx context.Context) ([]chamber.ProgramCounter, error) {
	set, err := c.programSet(ctx)
	if err != nil {
		return nil, err
	}
	d, err := c.programData(ctx, set.number)
	if err != nil {
		return nil, err
	}
	m, err := c.programMonitor(ctx)
	if err != nil {
		return nil, err
	}
	return []chamber.ProgramCounter{
		{Name: "A", Start: d.counterA.Start, End: d.counterA.End, Cycles: d.counterA.Cycles, Remaining: m.counterA},
		{Name: "B", Start: d.counterB.Start, End: d.counterB.End, Cycles: d.counterB.Cycles, Remaining: m.counterB},
	}, nil
}

// DateTime reads the controller clock in local time.
func (c *P300) DateTime(ctx context.Context) (time.Time, error) {
	response, err := c.query(ctx, "DATE?")
	if err != nil {
		return time.Time{}, err
	}
	year, month, day, err := parseDate("DATE?", response)
	if err != nil {
		return time.Time{}, err
	}
	if response, err = c.query(ctx, "TIME?"); err != nil {
		return time.Time{}, err
	}
	hour, minute, second, err := parseTime("TIME?", response)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local), nil
}

var weekdays = [...]string{"SUN", "MON", "TUE", "WED", "THU", "FRI", "SAT"}

// SetDateTime sets the clock, time first.
func (c *P300) SetDateTime(ctx context.Context, t time.Time) error {
	if err := c.send(ctx, "TIME,%d:%d:%d", t.Hour(), t.Minute(), t.Second()); err != nil {
		return err
	}
	year := t.Year()
	if year > 2000 {
		year -= 2000
	}
	return c.send(ctx, "DATE,%d.%d/%d. %s", year, int(t.Month()), t.Day(), weekdays[t.Weekday()])
}

// Refrigeration reads the constant refrigeration capacity. A numeric
// answer is a manual capacity in percent.
func (c *P300) Refrigeration(ctx context.Context) (chamber.Refrigeration, error) {
	response, err := c.query(ctx, "CONSTANT SET?,REF")
	if err != nil {
		return chamber.Refrigeration{}, err
	}
	if v, ok := parseFloat(response); ok {
		return chamber.Refrigeration{Mode: "manual", Setpoint: int(v)}, nil
	}
	r := chamber.Refrigeration{Mode: strings.ToLower(strings.TrimSpace(response))}
	if c.scp220() && r.Mode != "manual" && r.Mode != "off" {
		r.Mode = "auto"
	}
	return r, nil
}

func (c *P300) SetRefrigeration(ctx context.Context, value chamber.Refrigeration) error {
	code, err := refrigerationCode(value)
	if err != nil {
		return err
	}
	return c.send(ctx, "SET,%s", code)
}

// NetworkSettings reads the address, mask and gateway. The SCP-220 has no
// network interface.
func (c *P300) NetworkSettings(ctx context.Context) (chamber.NetworkSettings, error) {
	if c.scp220() {
		return chamber.NetworkSettings{}, chamber.ErrNotSupported
	}
	const command = "IPSET?"
	response, err := c.query(ctx, command)
	if err != nil {
		return chamber.NetworkSettings{}, err
	}
	f, err := fields(command, response, 3)
	if err != nil {
		return chamber.NetworkSettings{}, err
	}
	return chamber.NetworkSettings{Address: f[0], Mask: f[1], Gateway: f[2]}, nil
}

// SetNetworkSettings writes the address, mask and gateway; missing values
// and nil write 0.0.0.0.
func (c *P300) SetNetworkSettings(ctx context.Context, value *chamber.NetworkSettings) error {
	if c.scp220() {
		return chamber.ErrNotSupported
	}
	addrs := []string{"0.0.0.0", "0.0.0.0", "0.0.0.0"}
	if value != nil {
		for i, a := range []string{value.Address, value.Mask, value.Gateway} {
			if a == "" {
				continue
			}
			if net.ParseIP(a) == nil {
				return fmt.Errorf("espec: invalid network address %q", a)
			}
			addrs[i] = a
		}
	}
	return c.send(ctx, "IPSET,%s,%s,%s", addrs[0], addrs[1], addrs[2])
}

// ProcessController reads the ROM version and names the options of the
// configured loops. With update product control and humidity are detected
// by whether the controller answers their queries.
func (c *P300) ProcessController(ctx context.Context, update bool) (string, error) {
	rom, err := c.query(ctx, "ROM?")
	if err != nil {
		return "", err
	}
	name := "SCP-220"
	if strings.HasPrefix(rom, "P3") {
		name = "P300"
	}
	if update {
		if err := c.detect(ctx); err != nil {
			return "", err
		}
	}
	cfg := c.config()
	if cfg.Cascades > 0 {
		name += " W/PTCON"
	}
	if c.humidity(cfg) {
		name += " W/Humidity"
	}
	return name, nil
}

// detect probes for product control and humidity. A rejected query means
// the option is not installed.
func (c *P300) detect(ctx context.Context) error {
	loops, cascades := 0, 0
	switch _, err := c.client.Interact(ctx, "TEMP PTC?"); {
	case err == nil:
		cascades = 1
	case rejected(err):
		loops++
	default:
		return err
	}
	switch _, err := c.client.Interact(ctx, "HUMI?"); {
	case err == nil:
		loops++
	case !rejected(err):
		return err
	}
	c.mu.Lock()
	c.cfg.Loops = loops
	c.cfg.Cascades = cascades
	c.mu.Unlock()
	return nil
}

func rejected(err error) bool {
	var rerr *ascii.RejectedError
	return errors.As(err, &rerr)
}
