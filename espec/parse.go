package espec

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
)

// ResponseError reports a response that does not have the expected layout.
type ResponseError struct {
	Command  string
	Response string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("espec: unexpected response to %q: %q", e.Command, e.Response)
}

// fields splits a comma separated response, failing when it has fewer
// than n fields.
func fields(command, response string, n int) ([]string, error) {
	f := strings.Split(response, ",")
	if len(f) < n {
		return nil, &ResponseError{Command: command, Response: response}
	}
	return f, nil
}

// numbers parses the fields of one response. The first parse failure
// sticks in err.
type numbers struct {
	command  string
	response string
	fields   []string
	err      error
}

func (p *numbers) float(i int) float64 {
	if p.err != nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(p.fields[i]), 64)
	if err != nil {
		p.err = &ResponseError{Command: p.command, Response: p.response}
	}
	return v
}

func (p *numbers) int(i int) int {
	if p.err != nil {
		return 0
	}
	v, err := strconv.Atoi(strings.TrimSpace(p.fields[i]))
	if err != nil {
		p.err = &ResponseError{Command: p.command, Response: p.response}
	}
	return v
}

// tryFloat parses s, 0 when it is not a number.
func tryFloat(s string) float64 {
	v, _ := parseFloat(s)
	return v
}

func parseFloat(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

func parseNumbers(command, response string, n int) (*numbers, error) {
	f, err := fields(command, response, n)
	if err != nil {
		return nil, err
	}
	return &numbers{command: command, response: response, fields: f}, nil
}

// loopState is the answer to "TEMP?" and "HUMI?". Humidity answers a
// setpoint of "OFF" while disabled.
type loopState struct {
	pv, sp   float64
	enable   bool
	min, max float64
}

func parseLoop(command, response string) (loopState, error) {
	p, err := parseNumbers(command, response, 4)
	if err != nil {
		return loopState{}, err
	}
	s := loopState{pv: p.float(0), max: p.float(2), min: p.float(3)}
	if sp, err := strconv.ParseFloat(strings.TrimSpace(p.fields[1]), 64); err == nil {
		s.sp, s.enable = sp, true
	}
	return s, p.err
}

// constantState is the answer to "CONSTANT SET?,TEMP" and
// "CONSTANT SET?,HUMI".
type constantState struct {
	sp     float64
	enable bool
}

func parseConstant(command, response string) (constantState, error) {
	p, err := parseNumbers(command, response, 2)
	if err != nil {
		return constantState{}, err
	}
	s := constantState{sp: p.float(0), enable: p.fields[1] == "ON"}
	return s, p.err
}

// ptcState is the answer to "TEMP PTC?".
type ptcState struct {
	cascade            bool
	pvProduct, pvAir   float64
	spAir, spProduct   float64
	positive, negative float64
}

func parsePTC(command, response string, scp220 bool) (ptcState, error) {
	f, err := fields(command, response, 7)
	if err != nil {
		return ptcState{}, err
	}
	s := ptcState{
		cascade:   f[0] == "ON",
		pvProduct: tryFloat(f[1]),
		pvAir:     tryFloat(f[2]),
		spAir:     tryFloat(f[3]),
		spProduct: tryFloat(f[4]),
		positive:  tryFloat(f[5]),
		negative:  tryFloat(f[6]),
	}
	if scp220 {
		s.spAir, s.spProduct = s.spProduct, s.spAir
		s.negative = -s.negative
	}
	return s, nil
}

// constantPTC is the answer to "CONSTANT SET?,PTC".
type constantPTC struct {
	enable             bool
	positive, negative float64
}

func parseConstantPTC(command, response string, scp220 bool) (constantPTC, error) {
	p, err := parseNumbers(command, response, 3)
	if err != nil {
		return constantPTC{}, err
	}
	s := constantPTC{enable: p.fields[0] == "ON", positive: p.float(1), negative: p.float(2)}
	if scp220 {
		s.negative = -s.negative
	}
	return s, p.err
}

// monitor is the answer to "MON?".
type monitor struct {
	temperature float64
	humidity    *float64
	mode        string
	alarms      int
}

func parseMonitor(command, response string) (monitor, error) {
	p, err := parseNumbers(command, response, 4)
	if err != nil {
		return monitor{}, err
	}
	m := monitor{temperature: p.float(0), mode: p.fields[2], alarms: p.int(3)}
	if p.fields[1] != "" {
		h := p.float(1)
		m.humidity = &h
	}
	return m, p.err
}

// parseRelays reads the relays listed after the first field, as answered
// by "RELAY?" and "CONSTANT SET?,RELAY".
func parseRelays(response string) []bool {
	on := make([]bool, maxEvents)
	f := strings.Split(response, ",")
	for _, s := range f[1:] {
		if n, err := strconv.Atoi(strings.TrimSpace(s)); err == nil && n >= 1 && n <= maxEvents {
			on[n-1] = true
		}
	}
	return on
}

// parseInts reads the integers after the first field, as answered by
// "ALARM?".
func parseInts(command, response string) ([]int, error) {
	f := strings.Split(response, ",")
	values := []int{}
	for _, s := range f[1:] {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, &ResponseError{Command: command, Response: response}
		}
		values = append(values, n)
	}
	return values, nil
}

// heaters is the answer to "%?": the dry and, with humidity, the wet
// heater output in percent.
type heaters struct {
	dry, wet float64
}

func parseHeaters(command, response string) (heaters, error) {
	p, err := parseNumbers(command, response, 2)
	if err != nil {
		return heaters{}, err
	}
	h := heaters{dry: p.float(1)}
	if len(p.fields) > 2 {
		h.wet = p.float(2)
	}
	return h, p.err
}

// programMonitor is the answer to "PRGM MON?". Humidity is only reported
// by humidity chambers.
type programMonitor struct {
	step        int
	temperature float64
	humidity    float64
	remaining   time.Duration
	counterA    int
	counterB    int
}

func parseProgramMonitor(command, response string) (programMonitor, error) {
	p, err := parseNumbers(command, response, 5)
	if err != nil {
		return programMonitor{}, err
	}
	m := programMonitor{step: p.int(0), temperature: p.float(1)}
	i := 2
	if len(p.fields) >= 6 {
		m.humidity = tryFloat(p.fields[2])
		i = 3
	}
	if m.remaining, err = parseHoursMinutes(p.fields[i]); err != nil {
		return programMonitor{}, &ResponseError{Command: command, Response: response}
	}
	m.counterA = p.int(i + 1)
	m.counterB = p.int(i + 2)
	return m, p.err
}

func parseHoursMinutes(s string) (time.Duration, error) {
	var h, m int
	if _, err := fmt.Sscanf(strings.TrimSpace(s), "%d:%d", &h, &m); err != nil {
		return 0, err
	}
	return time.Duration(h)*time.Hour + time.Duration(m)*time.Minute, nil
}

// programSet is the answer to "PRGM SET?": the program loaded for running.
type programSet struct {
	number int
	name   string
	end    string
}

// parseProgramSet reads "RAM:n,name,END(mode)".
func parseProgramSet(command, response string) (programSet, error) {
	bad := &ResponseError{Command: command, Response: response}
	f, err := fields(command, response, 3)
	if err != nil {
		return programSet{}, err
	}
	slot, number, ok := strings.Cut(strings.TrimSpace(f[0]), ":")
	if !ok || (slot != "RAM" && slot != "ROM") || f[1] == "" {
		return programSet{}, bad
	}
	n, err := strconv.Atoi(number)
	if err != nil {
		return programSet{}, bad
	}
	end, ok := enclosed(f[2], "END")
	if !ok || end == "" {
		return programSet{}, bad
	}
	return programSet{number: n, name: f[1], end: end}, nil
}

// enclosed returns the text between "tag(" and ")".
func enclosed(s, tag string) (string, bool) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, tag+"(") || !strings.HasSuffix(s, ")") {
		return "", false
	}
	return s[len(tag)+1 : len(s)-1], true
}

// parseCounter reads "A(start.end.cycles)".
func parseCounter(s, tag string) (Counter, bool) {
	inner, ok := enclosed(s, tag)
	if !ok {
		return Counter{}, false
	}
	parts := strings.Split(inner, ".")
	if len(parts) != 3 {
		return Counter{}, false
	}
	var n [3]int
	for i, part := range parts {
		v, err := strconv.Atoi(part)
		if err != nil {
			return Counter{}, false
		}
		n[i] = v
	}
	return Counter{Start: n[0], End: n[1], Cycles: n[2]}, true
}

// programData is the answer to "PRGM DATA?,RAM:n".
type programData struct {
	steps    int
	name     string
	end      string
	next     int
	counterA Counter
	counterB Counter
}

// parseProgramData reads "steps,<name>,COUNT,A(s.e.c),B(s.e.c),END(mode)".
// A RUN end mode carries the next program as "RUN:n".
func parseProgramData(command, response string) (programData, error) {
	bad := &ResponseError{Command: command, Response: response}
	f, err := fields(command, response, 6)
	if err != nil {
		return programData{}, err
	}
	var d programData
	if d.steps, err = strconv.Atoi(strings.TrimSpace(f[0])); err != nil {
		return programData{}, bad
	}
	name := strings.TrimSpace(f[1])
	if len(name) < 3 || name[0] != '<' || name[len(name)-1] != '>' {
		return programData{}, bad
	}
	d.name = name[1 : len(name)-1]
	if strings.TrimSpace(f[2]) != "COUNT" {
		return programData{}, bad
	}
	var okA, okB, okEnd bool
	d.counterA, okA = parseCounter(f[3], "A")
	d.counterB, okB = parseCounter(f[4], "B")
	d.end, okEnd = enclosed(f[5], "END")
	if !okA || !okB || !okEnd || d.end == "" {
		return programData{}, bad
	}
	if strings.HasPrefix(d.end, EndRun) {
		d.next, _ = strconv.Atoi(strings.TrimLeft(d.end[len(EndRun):], ":"))
		d.end = EndRun
	}
	return d, nil
}

// parseProgramDetail reads the answer to "PRGM DATA?,RAM:n,DETAIL": the
// temperature and humidity ranges and start conditions, as
// "tmax,tmin[,hmax,hmin],TEMPmode[,sp][,HUMImode[,sp]]". Humidity is
// only reported when its range is.
func parseProgramDetail(command, response string) (*Detail, *Detail, error) {
	bad := &ResponseError{Command: command, Response: response}
	f, err := fields(command, response, 3)
	if err != nil {
		return nil, nil, err
	}
	hi, okHi := parseFloat(f[0])
	lo, okLo := parseFloat(f[1])
	if !okHi || !okLo {
		return nil, nil, bad
	}
	temp := &Detail{Range: &chamber.Range{Max: hi, Min: lo}}

	var humi *Detail
	i := 2
	if !strings.HasPrefix(f[i], "TEMP") {
		if len(f) < 5 {
			return nil, nil, bad
		}
		hi, okHi := parseFloat(f[2])
		lo, okLo := parseFloat(f[3])
		if !okHi || !okLo {
			return nil, nil, bad
		}
		humi = &Detail{Range: &chamber.Range{Max: hi, Min: lo}}
		i = 4
	}

	// mode reads a "TAGmode" field and the setpoint that may follow it.
	mode := func(tag string, d *Detail) bool {
		if i >= len(f) || !strings.HasPrefix(f[i], tag) {
			return false
		}
		d.Mode = f[i][len(tag):]
		i++
		if i < len(f) {
			if sp, ok := parseFloat(f[i]); ok {
				d.Setpoint = &sp
				i++
			}
		}
		return true
	}
	if !mode("TEMP", temp) {
		return nil, nil, bad
	}
	if humi != nil {
		mode("HUMI", humi)
	}
	return temp, humi, nil
}

// parseStep reads the answer to "PRGM DATA?,RAM:n,STEPk": the step number
// followed by tagged fields, for example
// "1,TEMP25.0,TEMP RAMP OFF,HUMI 50,HUMI RAMP ON,TIME1:30,GRANTY OFF,REF9,RELAY ON1.3,PAUSE OFF".
// Product control steps carry "PTC ON" and the "DEVPx,DEVNy" deviations.
func parseStep(command, response string, scp220 bool) (Step, error) {
	bad := &ResponseError{Command: command, Response: response}
	f, err := fields(command, response, 6)
	if err != nil {
		return Step{}, err
	}
	if _, err := strconv.Atoi(strings.TrimSpace(f[0])); err != nil {
		return Step{}, bad
	}
	s := Step{Relays: make([]bool, maxEvents)}
	var (
		ptc                      string
		hasTemp, hasTime, hasRef bool
		dev                      chamber.Deviation
	)
	for _, field := range f[1:] {
		switch {
		case strings.HasPrefix(field, "TEMP RAMP "):
			s.Temperature.Ramp = strings.TrimPrefix(field, "TEMP RAMP ") == "ON"
		case strings.HasPrefix(field, "TEMP"):
			sp, ok := parseFloat(strings.TrimPrefix(field, "TEMP"))
			if !ok {
				return Step{}, bad
			}
			s.Temperature.Setpoint = sp
			hasTemp = true
		case strings.HasPrefix(field, "PTC "):
			ptc = strings.TrimPrefix(field, "PTC ")
		case strings.HasPrefix(field, "HUMI RAMP "):
			if s.Humidity != nil {
				s.Humidity.Ramp = strings.TrimPrefix(field, "HUMI RAMP ") == "ON"
			}
		case strings.HasPrefix(field, "HUMI"):
			h := strings.TrimPrefix(field, "HUMI")
			s.Humidity = &StepHumidity{
				Setpoint: tryFloat(h),
				Enable:   strings.TrimSpace(h) != "OFF",
			}
		case strings.HasPrefix(field, "TIME"):
			d, err := parseHoursMinutes(strings.TrimPrefix(field, "TIME"))
			if err != nil {
				return Step{}, bad
			}
			s.Duration = d
			hasTime = true
		case strings.HasPrefix(field, "GRANTY "):
			s.GuaranteedSoak = strings.TrimPrefix(field, "GRANTY ") == "ON"
		case strings.HasPrefix(field, "REF"):
			s.Refrigeration = refrigeration(field)
			hasRef = true
		case strings.HasPrefix(field, "RELAY ON"):
			for _, r := range strings.Split(strings.TrimPrefix(field, "RELAY ON"), ".") {
				if n, err := strconv.Atoi(r); err == nil && n >= 1 && n <= maxEvents {
					s.Relays[n-1] = true
				}
			}
		case strings.HasPrefix(field, "PAUSE "):
			s.Paused = strings.TrimPrefix(field, "PAUSE ") == "ON"
		case strings.HasPrefix(field, "DEVP"):
			dev.Positive = tryFloat(strings.TrimPrefix(field, "DEVP"))
		case strings.HasPrefix(field, "DEVN"):
			dev.Negative = tryFloat(strings.TrimPrefix(field, "DEVN"))
		}
	}
	if !hasTemp || !hasTime || !hasRef {
		return Step{}, bad
	}
	if ptc != "" {
		cascade := ptc == "ON"
		if scp220 {
			dev.Negative = -dev.Negative
		}
		s.Temperature.Cascade = &cascade
		s.Temperature.Deviation = &dev
	}
	return s, nil
}

// parseProgramUse reads the name from the answer to "PRGM USE?,RAM:n",
// the program name and the date it was stored.
func parseProgramUse(command, response string) (string, error) {
	f, err := fields(command, response, 2)
	if err != nil {
		return "", err
	}
	return f[0], nil
}

// parseDate reads "yy.mm/dd" with an optional day of week suffix.
func parseDate(command, response string) (year, month, day int, err error) {
	if _, err = fmt.Sscanf(response, "%d.%d/%d", &year, &month, &day); err != nil {
		return 0, 0, 0, &ResponseError{Command: command, Response: response}
	}
	return 2000 + year, month, day, nil
}

func parseTime(command, response string) (hour, minute, second int, err error) {
	if _, err = fmt.Sscanf(response, "%d:%d:%d", &hour, &minute, &second); err != nil {
		return 0, 0, 0, &ResponseError{Command: command, Response: response}
	}
	return hour, minute, second, nil
}

// refrigerations maps the capacity codes of "SET?" and program steps.
var refrigerations = map[string]chamber.Refrigeration{
	"REF0": {Mode: "off", Setpoint: 0},
	"REF1": {Mode: "manual", Setpoint: 20},
	"REF3": {Mode: "manual", Setpoint: 50},
	"REF6": {Mode: "manual", Setpoint: 100},
	"REF9": {Mode: "auto", Setpoint: 0},
}

func refrigeration(code string) chamber.Refrigeration {
	if r, ok := refrigerations[code]; ok {
		return r
	}
	return chamber.Refrigeration{Mode: "manual", Setpoint: 0}
}

// refrigerationCode encodes r as a capacity code.
func refrigerationCode(r chamber.Refrigeration) (string, error) {
	switch strings.ToLower(r.Mode) {
	case "off":
		return "REF0", nil
	case "auto":
		return "REF9", nil
	case "manual":
		switch r.Setpoint {
		case 0:
			return "REF0", nil
		case 20:
			return "REF1", nil
		case 50:
			return "REF3", nil
		case 100:
			return "REF6", nil
		}
		return "", fmt.Errorf("espec: refrigeration setpoint %d is not one of 0, 20, 50, 100", r.Setpoint)
	}
	return "", fmt.Errorf("espec: refrigeration mode %q is not one of off, manual, auto", r.Mode)
}

// relayLists splits relays into the numbers to switch on and off.
func relayLists(relays []bool) (on, off []string) {
	for i, v := range relays {
		if v {
			on = append(on, strconv.Itoa(i+1))
		} else {
			off = append(off, strconv.Itoa(i+1))
		}
	}
	return on, off
}
