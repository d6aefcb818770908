package chamber

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// LoopKind tells a plain control loop from a cascade loop.
type LoopKind int

const (
	// Loop is a single setpoint/process value loop.
	Loop LoopKind = iota
	// Cascade controls an air loop to reach a product target.
	Cascade
)

func (k LoopKind) String() string {
	if k == Cascade {
		return "cascade"
	}
	return "loop"
}

// LoopRef addresses one loop. Number is 1-based within its kind.
type LoopRef struct {
	Kind   LoopKind
	Number int
}

func (r LoopRef) String() string {
	return r.Kind.String() + strconv.Itoa(r.Number)
}

// MarshalText implements encoding.TextMarshaler.
func (r LoopRef) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseLoopRef parses "loop1", "cascade2", "loop:1" or "cascade 2".
func ParseLoopRef(s string) (LoopRef, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var ref LoopRef
	switch {
	case strings.HasPrefix(s, "cascade"):
		ref.Kind, s = Cascade, s[len("cascade"):]
	case strings.HasPrefix(s, "loop"):
		ref.Kind, s = Loop, s[len("loop"):]
	default:
		return LoopRef{}, fmt.Errorf("chamber: invalid loop reference %q", s)
	}
	n, err := strconv.Atoi(strings.TrimLeft(s, ": "))
	if err != nil || n < 1 {
		return LoopRef{}, fmt.Errorf("chamber: invalid loop number in %q", s)
	}
	ref.Number = n
	return ref, nil
}

// Setpoint is the programmed (constant) and active (current) target of a
// loop. Cascade loops also report the air and product targets.
type Setpoint struct {
	Constant float64  `yaml:"constant"`
	Current  float64  `yaml:"current"`
	Air      *float64 `yaml:"air,omitempty"`
	Product  *float64 `yaml:"product,omitempty"`
}

// ProcessValue is the measured value of a loop.
type ProcessValue struct {
	Air     float64  `yaml:"air"`
	Product *float64 `yaml:"product,omitempty"`
}

// Range bounds a loop setpoint.
type Range struct {
	Min float64 `yaml:"min"`
	Max float64 `yaml:"max"`
}

// Toggle is a configured and an actual on/off state.
type Toggle struct {
	Constant bool `yaml:"constant"`
	Current  bool `yaml:"current"`
}

// Power is the output power of a loop in percent.
type Power struct {
	Constant float64 `yaml:"constant"`
	Current  float64 `yaml:"current"`
}

// Deviation is the allowed air/product difference of a cascade loop.
type Deviation struct {
	Positive float64 `yaml:"positive"`
	Negative float64 `yaml:"negative"`
}

// LoopMode is the configured and actual control mode of a loop, one of
// "Off", "On", "Auto" or "Manual".
type LoopMode struct {
	Constant string `yaml:"constant"`
	Current  string `yaml:"current"`
}

// Status is the controller reported operating state.
type Status string

const (
	StatusOff                   Status = "Off"
	StatusStandby               Status = "Standby"
	StatusConstant              Status = "Constant"
	StatusProgramRunning        Status = "Program Running"
	StatusProgramPaused         Status = "Program Paused"
	StatusProgramEndHold        Status = "Program End Hold"
	StatusRemoteProgramRunning  Status = "Remote Program Running"
	StatusRemoteProgramPaused   Status = "Remote Program Paused"
	StatusRemoteProgramEndHold  Status = "Remote Program End Hold"
	StatusConstantCalendarStart Status = "Constant (Program Calendar Start)"
	StatusStandbyCalendarStart  Status = "Standby (Program Calendar Start)"
	StatusAlarm                 Status = "Alarm"
)

// InProgram reports whether a program is loaded, running or paused.
func (s Status) InProgram() bool {
	return strings.Contains(string(s), "Program") && !strings.Contains(string(s), "Calendar")
}

// AlarmStatus splits the alarm channels of a controller.
type AlarmStatus struct {
	Active   []int `yaml:"active"`
	Inactive []int `yaml:"inactive"`
}

// Refrigeration is the refrigeration capacity setting. Mode is "off",
// "manual" or "auto"; Setpoint is 0, 20, 50 or 100 percent in manual mode.
type Refrigeration struct {
	Mode     string `yaml:"mode"`
	Setpoint int    `yaml:"setpoint"`
}

// NetworkSettings is the controller network configuration. Message and Host
// are front panel texts on controllers that display them.
type NetworkSettings struct {
	Address string `yaml:"address"`
	Mask    string `yaml:"mask"`
	Gateway string `yaml:"gateway"`
	Message string `yaml:"message"`
	Host    string `yaml:"host"`
}

// ProgramInfo names a stored program.
type ProgramInfo struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name"`
	Steps  int    `yaml:"steps,omitempty"`
}

// ProgramCounter is a step repeat counter of a program.
type ProgramCounter struct {
	Name      string `yaml:"name"`
	Start     int    `yaml:"start"`
	End       int    `yaml:"end"`
	Cycles    int    `yaml:"cycles"`
	Remaining int    `yaml:"remaining"`
}

// Program is a stored program. Its step layout is controller specific.
type Program interface {
	ProgramName() string
	StepCount() int
}

// Operation modes accepted by SetOperation and reported by Operation.
const (
	ModeStandby        = "standby"
	ModeOff            = "off"
	ModeConstant       = "constant"
	ModeProgram        = "program"
	ModeProgramPause   = "program_pause"
	ModeProgramResume  = "program_resume"
	ModeProgramAdvance = "program_advance"
	ModeAlarm          = "alarm"
	ModeUnknown        = "unknown"
)

// Operation is the operating state of the chamber, loops and events excluded.
type Operation struct {
	Mode    string        `yaml:"mode"`
	Status  Status        `yaml:"status"`
	Program *ProgramState `yaml:"program,omitempty"`
	Alarms  []int         `yaml:"alarms,omitempty"`
}

// ProgramState describes the program being run.
type ProgramState struct {
	Number            int              `yaml:"number"`
	Step              int              `yaml:"step"`
	TimeRemaining     time.Duration    `yaml:"time_remaining"`
	StepTimeRemaining time.Duration    `yaml:"step_time_remaining"`
	Name              string           `yaml:"name"`
	Steps             int              `yaml:"steps"`
	Counters          []ProgramCounter `yaml:"cycles,omitempty"`
}

// OperationRequest selects the operation to start. Program and Step are
// used by ModeProgram only; Step defaults to 1.
type OperationRequest struct {
	Mode    string
	Program int
	Step    int
}

// LoopValues holds the fields read by GetLoop. Fields that were not
// requested, or that the controller does not implement, are nil.
type LoopValues struct {
	Loop          LoopRef       `yaml:"loop"`
	Name          string        `yaml:"name,omitempty"`
	Setpoint      *Setpoint     `yaml:"setpoint,omitempty"`
	ProcessValue  *ProcessValue `yaml:"processvalue,omitempty"`
	Range         *Range        `yaml:"range,omitempty"`
	Enable        *Toggle       `yaml:"enable,omitempty"`
	Units         *string       `yaml:"units,omitempty"`
	Mode          *LoopMode     `yaml:"mode,omitempty"`
	Power         *Power        `yaml:"power,omitempty"`
	Deviation     *Deviation    `yaml:"deviation,omitempty"`
	CascadeEnable *Toggle       `yaml:"enable_cascade,omitempty"`
}

// LoopSettings holds the fields written by SetLoop. Nil fields are left
// unchanged.
type LoopSettings struct {
	Mode          *string
	Setpoint      *float64
	Range         *Range
	Enable        *bool
	Power         *float64
	Deviation     *Deviation
	CascadeEnable *bool
}

// Sample is one batched read of the chamber state.
type Sample struct {
	DateTime  time.Time     `yaml:"datetime"`
	Status    Status        `yaml:"status"`
	Loops     []LoopValues  `yaml:"loops"`
	Alarms    *AlarmStatus  `yaml:"alarms,omitempty"`
	Operation *Operation    `yaml:"operation,omitempty"`
	Programs  []ProgramInfo `yaml:"programs,omitempty"`
	Events    []EventState  `yaml:"events,omitempty"`
}

// EventState is the state of one numbered event.
type EventState struct {
	Number int    `yaml:"number"`
	Name   string `yaml:"name,omitempty"`
	Toggle `yaml:",inline"`
}

// SampleOptions adds optional parts to a Sample.
type SampleOptions struct {
	Alarms    bool
	Operation bool
	Programs  bool
	// Events maps event numbers to display names.
	Events map[int]string
}
