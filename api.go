/*
Package chamber is a controller independent interface to environmental test
chambers.

A controller package (watlow, espec) implements Ops over its transport. Ops
methods assume exclusive access: they are meant to be called through a
Chamber, whose methods each run as one session.Do, so that composite
operations are never interleaved with another caller's register or command
traffic.
*/
package chamber

import (
	"context"
	"time"
)

// Ops is the operation set of one controller. Methods must only be called
// while holding the controller's session; ctx is the context handed out by
// session.Do.
type Ops interface {
	// Connect and Close open and close the transport.
	Connect() error
	Close() error

	// Loops lists the loops of the controller, cascades first.
	Loops() []LoopRef
	// LoopNames maps names to indexes into Loops.
	LoopNames() map[string]int

	Setpoint(ctx context.Context, loop LoopRef) (Setpoint, error)
	SetSetpoint(ctx context.Context, loop LoopRef, value float64) error
	ProcessValue(ctx context.Context, loop LoopRef) (ProcessValue, error)
	Range(ctx context.Context, loop LoopRef) (Range, error)
	SetRange(ctx context.Context, loop LoopRef, value Range) error
	Enable(ctx context.Context, loop LoopRef) (Toggle, error)
	SetEnable(ctx context.Context, loop LoopRef, value bool) error
	Units(ctx context.Context, loop LoopRef) (string, error)
	Mode(ctx context.Context, loop LoopRef) (LoopMode, error)
	SetMode(ctx context.Context, loop LoopRef, mode string) error
	Modes(loop LoopRef) ([]string, error)
	Power(ctx context.Context, loop LoopRef) (Power, error)
	SetPower(ctx context.Context, loop LoopRef, value float64) error
	Deviation(ctx context.Context, loop LoopRef) (Deviation, error)
	SetDeviation(ctx context.Context, loop LoopRef, value Deviation) error
	CascadeEnable(ctx context.Context, loop LoopRef) (Toggle, error)
	SetCascadeEnable(ctx context.Context, loop LoopRef, value bool) error

	Event(ctx context.Context, n int) (Toggle, error)
	SetEvent(ctx context.Context, n int, value bool) error

	Status(ctx context.Context) (Status, error)
	Alarms(ctx context.Context) (AlarmStatus, error)
	DateTime(ctx context.Context) (time.Time, error)
	SetDateTime(ctx context.Context, t time.Time) error
	Refrigeration(ctx context.Context) (Refrigeration, error)
	SetRefrigeration(ctx context.Context, value Refrigeration) error
	NetworkSettings(ctx context.Context) (NetworkSettings, error)
	// SetNetworkSettings with nil clears the settings.
	SetNetworkSettings(ctx context.Context, value *NetworkSettings) error

	StartConstant(ctx context.Context) error
	Stop(ctx context.Context) error
	StartProgram(ctx context.Context, n, step int) error
	PauseProgram(ctx context.Context) error
	ResumeProgram(ctx context.Context) error
	AdvanceProgram(ctx context.Context) error
	OperationModes() []string

	CurrentProgram(ctx context.Context) (int, error)
	CurrentStep(ctx context.Context) (int, error)
	StepTimeRemaining(ctx context.Context) (time.Duration, error)
	ProgramTimeRemaining(ctx context.Context) (time.Duration, error)
	ProgramCounters(ctx context.Context) ([]ProgramCounter, error)
	ProgramName(ctx context.Context, n int) (string, error)
	ProgramSteps(ctx context.Context, n int) (int, error)
	Programs(ctx context.Context) ([]ProgramInfo, error)
	Program(ctx context.Context, n int) (Program, error)
	SetProgram(ctx context.Context, n int, p Program) error
	DeleteProgram(ctx context.Context, n int) error

	// ProcessController reads the controller identity. With update the
	// loop layout and capabilities are re-detected from it.
	ProcessController(ctx context.Context, update bool) (string, error)
	// Raw sends a controller native request and returns the native response.
	Raw(ctx context.Context, request []byte) ([]byte, error)
}
