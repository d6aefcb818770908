package espec

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/ascii"
)

var (
	loop1    = chamber.LoopRef{Kind: chamber.Loop, Number: 1}
	loop2    = chamber.LoopRef{Kind: chamber.Loop, Number: 2}
	cascade1 = chamber.LoopRef{Kind: chamber.Cascade, Number: 1}
)

// fakeClient answers commands from a table. Commands it does not know are
// answered "OK".
type fakeClient struct {
	mu        sync.Mutex
	responses map[string]string
	// rejects maps commands to the "NA:" message they are answered with.
	rejects map[string]string
	// fail, when set, may fail any command.
	fail     func(command string) error
	commands []string
	connects int
	closes   int
}

func newFakeClient(responses map[string]string) *fakeClient {
	if responses == nil {
		responses = map[string]string{}
	}
	return &fakeClient{responses: responses, rejects: map[string]string{}}
}

func (f *fakeClient) Interact(_ context.Context, command string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, command)
	if f.fail != nil {
		if err := f.fail(command); err != nil {
			return "", err
		}
	}
	if msg, ok := f.rejects[command]; ok {
		return "", &ascii.RejectedError{Command: command, Message: msg}
	}
	if r, ok := f.responses[command]; ok {
		return r, nil
	}
	return "OK", nil
}

func (f *fakeClient) Connect() error {
	f.mu.Lock()
	f.connects++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakeClient) Commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeClient) count(command string) int {
	n := 0
	for _, c := range f.Commands() {
		if c == command {
			n++
		}
	}
	return n
}

func (f *fakeClient) reset() {
	f.mu.Lock()
	f.commands = nil
	f.mu.Unlock()
}

func TestLoops(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		loops []chamber.LoopRef
	}{
		{"temperature", Config{Loops: 1}, []chamber.LoopRef{loop1}},
		{"humidity", Config{Loops: 2}, []chamber.LoopRef{loop1, loop2}},
		{"product control", Config{Cascades: 1, Loops: 1}, []chamber.LoopRef{cascade1, loop2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(newFakeClient(nil), tt.cfg)
			assert.Equal(t, tt.loops, c.Loops())
			names := c.LoopNames()
			assert.Equal(t, 0, names["temp"])
			_, ok := names["humidity"]
			assert.Equal(t, len(tt.loops) > 1, ok)
		})
	}
}

func TestLookupHumidity(t *testing.T) {
	ch := chamber.New(New(newFakeClient(nil), Config{Cascades: 1, Loops: 1}))
	ref, err := ch.Lookup("Humidity")
	require.NoError(t, err)
	assert.Equal(t, loop2, ref)
	ref, err = ch.Lookup("temperature")
	require.NoError(t, err)
	assert.Equal(t, cascade1, ref)
}

func TestLoopOutOfRangeBeforeIO(t *testing.T) {
	f := newFakeClient(nil)
	c := New(f, Config{Loops: 1})
	_, err := c.Setpoint(context.Background(), loop2)
	assert.ErrorIs(t, err, chamber.ErrIndexOutOfRange)
	err = c.SetSetpoint(context.Background(), cascade1, 20)
	assert.ErrorIs(t, err, chamber.ErrIndexOutOfRange)
	assert.Empty(t, f.Commands())
}

func TestTemperature(t *testing.T) {
	f := newFakeClient(map[string]string{
		"TEMP?":              "23.5,25.0,100.0,-40.0",
		"CONSTANT SET?,TEMP": "30.0,ON",
		"%?":                 "2,45.5,12.0",
	})
	c := New(f, DefaultConfig())
	ctx := context.Background()

	sp, err := c.Setpoint(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Setpoint{Constant: 30, Current: 25}, sp)

	pv, err := c.ProcessValue(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, 23.5, pv.Air)
	assert.Nil(t, pv.Product)

	r, err := c.Range(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Range{Min: -40, Max: 100}, r)

	p, err := c.Power(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Power{Constant: 45.5, Current: 45.5}, p)
	p, err = c.Power(ctx, loop2)
	require.NoError(t, err)
	assert.Equal(t, 12.0, p.Current)

	en, err := c.Enable(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Toggle{Constant: true, Current: true}, en)

	units, err := c.Units(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, "°C", units)
	assert.Equal(t, 1, f.count("TEMP?"))
}

func TestHumidityDisabled(t *testing.T) {
	f := newFakeClient(map[string]string{
		"HUMI?":              "45.0,OFF,98.0,20.0",
		"CONSTANT SET?,HUMI": "60.0,OFF",
		"MODE?":              "CONSTANT",
	})
	c := New(f, DefaultConfig())
	ctx := context.Background()

	en, err := c.Enable(ctx, loop2)
	require.NoError(t, err)
	assert.Equal(t, chamber.Toggle{}, en)

	sp, err := c.Setpoint(ctx, loop2)
	require.NoError(t, err)
	assert.Equal(t, chamber.Setpoint{Constant: 60, Current: 0}, sp)

	mode, err := c.Mode(ctx, loop2)
	require.NoError(t, err)
	assert.Equal(t, chamber.LoopMode{Constant: "Off", Current: "Off"}, mode)

	modes, err := c.Modes(loop2)
	require.NoError(t, err)
	assert.Equal(t, []string{"Off", "On"}, modes)
}

func TestModeStandbyIsOff(t *testing.T) {
	f := newFakeClient(map[string]string{"MODE?": "STANDBY"})
	c := New(f, DefaultConfig())
	mode, err := c.Mode(context.Background(), loop1)
	require.NoError(t, err)
	assert.Equal(t, chamber.LoopMode{Constant: "On", Current: "Off"}, mode)
}

func TestSetHumidity(t *testing.T) {
	f := newFakeClient(map[string]string{"CONSTANT SET?,HUMI": "65.0,OFF"})
	c := New(f, DefaultConfig())
	ctx := context.Background()

	require.NoError(t, c.SetEnable(ctx, loop2, true))
	require.NoError(t, c.SetMode(ctx, loop2, "OFF"))
	require.NoError(t, c.SetSetpoint(ctx, loop2, 55.5))
	require.NoError(t, c.SetRange(ctx, loop2, chamber.Range{Min: 10, Max: 95}))
	// Temperature cannot be disabled.
	require.NoError(t, c.SetEnable(ctx, loop1, false))
	assert.Equal(t, []string{
		"CONSTANT SET?,HUMI",
		"HUMI, S65.0",
		"HUMI,SOFF",
		"HUMI, S55.5",
		"HUMI, L10.0",
		"HUMI, H95.0",
	}, f.Commands())

	assert.Error(t, c.SetMode(ctx, loop2, "auto"))
	assert.Error(t, c.SetRange(ctx, loop1, chamber.Range{Min: 10, Max: 0}))
	assert.ErrorIs(t, c.SetPower(ctx, loop1, 50), chamber.ErrNotSupported)
}

func TestCascade(t *testing.T) {
	f := newFakeClient(map[string]string{
		"CONSTANT SET?,TEMP": "30.0,ON",
		"TEMP PTC?":          "ON,30.5,29.0,28.0,31.0,3.0,2.0",
		"CONSTANT SET?,PTC":  "OFF,4.0,5.0",
	})
	c := New(f, Config{Cascades: 1, Loops: 1})
	ctx := context.Background()

	sp, err := c.Setpoint(ctx, cascade1)
	require.NoError(t, err)
	air, product := 28.0, 31.0
	assert.Equal(t, chamber.Setpoint{Constant: 30, Current: 31, Air: &air, Product: &product}, sp)

	pv, err := c.ProcessValue(ctx, cascade1)
	require.NoError(t, err)
	require.NotNil(t, pv.Product)
	assert.Equal(t, 29.0, pv.Air)
	assert.Equal(t, 30.5, *pv.Product)

	ctl, err := c.CascadeEnable(ctx, cascade1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Toggle{Constant: false, Current: true}, ctl)

	dev, err := c.Deviation(ctx, cascade1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Deviation{Positive: 4, Negative: 5}, dev)

	f.reset()
	require.NoError(t, c.SetCascadeEnable(ctx, cascade1, false))
	require.NoError(t, c.SetDeviation(ctx, cascade1, chamber.Deviation{Positive: 1.5, Negative: 2.5}))
	// The product control state read above is still cached.
	assert.Equal(t, []string{
		"TEMP PTC, PTCOFF, DEVP3.0, DEVN2.0",
		"CONSTANT SET?,PTC",
		"TEMP PTC, PTCOFF, DEVP1.5, DEVN2.5",
	}, f.Commands())

	_, err = c.Deviation(ctx, loop1)
	assert.ErrorIs(t, err, chamber.ErrNotSupported)
}

func TestSCP220Cascade(t *testing.T) {
	f := newFakeClient(map[string]string{
		"CONSTANT SET?,TEMP": "30.0,ON",
		"TEMP PTC?":          "OFF,30.5,29.0,28.0,31.0,3.0,2.0",
		"CONSTANT SET?,PTC":  "ON,4.0,5.0",
	})
	c := New(f, Config{Model: ModelSCP220, Cascades: 1})
	ctx := context.Background()

	dev, err := c.Deviation(ctx, cascade1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Deviation{Positive: 4, Negative: -5}, dev)

	pv, err := c.Setpoint(ctx, cascade1)
	require.NoError(t, err)
	assert.Equal(t, 31.0, *pv.Air)
	assert.Equal(t, 31.0, pv.Current)

	f.reset()
	require.NoError(t, c.SetDeviation(ctx, cascade1, chamber.Deviation{Positive: 1, Negative: -2}))
	assert.Equal(t, []string{"TEMP PTC, PTCON, DEVP1.0, DEVN2.0"}, f.Commands())
}

func TestSessionCache(t *testing.T) {
	f := newFakeClient(map[string]string{
		"TEMP?":              "23.5,25.0,100.0,-40.0",
		"CONSTANT SET?,TEMP": "30.0,ON",
	})
	ch := chamber.New(New(f, Config{Loops: 1}))
	ctx := context.Background()

	_, err := ch.GetLoop(ctx, loop1, chamber.FieldSetpoint, chamber.FieldProcessValue, chamber.FieldRange)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("TEMP?"))

	// A new session asks again.
	_, err = ch.GetLoop(ctx, loop1, chamber.FieldRange)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("TEMP?"))
	assert.Equal(t, 2, f.connects)
	assert.Equal(t, 2, f.closes)

	// A write inside a session invalidates what was read before it.
	err = ch.Do(ctx, func(ctx context.Context, ops chamber.Ops) error {
		if _, err := ops.Range(ctx, loop1); err != nil {
			return err
		}
		if err := ops.SetSetpoint(ctx, loop1, 20); err != nil {
			return err
		}
		_, err := ops.Setpoint(ctx, loop1)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 4, f.count("TEMP?"))
}

func TestCacheFreshness(t *testing.T) {
	f := newFakeClient(map[string]string{"TEMP?": "23.5,25.0,100.0,-40.0"})
	c := New(f, Config{Loops: 1, Freshness: time.Second})
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := c.Range(ctx, loop1)
	require.NoError(t, err)
	now = now.Add(500 * time.Millisecond)
	_, err = c.Range(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, 1, f.count("TEMP?"))

	now = now.Add(2 * time.Second)
	_, err = c.Range(ctx, loop1)
	require.NoError(t, err)
	assert.Equal(t, 2, f.count("TEMP?"))
}

func TestStatus(t *testing.T) {
	tests := []struct {
		mon, mode string
		want      chamber.Status
	}{
		{"25.0,50.0,CONSTANT,0", "CONSTANT", chamber.StatusConstant},
		{"25.0,,STANDBY,0", "STANDBY", chamber.StatusStandby},
		{"25.0,50.0,RUN,0", "RUN PAUSE", chamber.StatusProgramPaused},
		{"25.0,50.0,RUN,0", "RMT RUN END HOLD", chamber.StatusRemoteProgramEndHold},
		{"25.0,50.0,RUN,2", "RUN", chamber.StatusAlarm},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			f := newFakeClient(map[string]string{"MON?": tt.mon, "MODE?,DETAIL": tt.mode})
			status, err := New(f, DefaultConfig()).Status(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, status)
		})
	}

	f := newFakeClient(map[string]string{"MON?": "25.0,,X,0", "MODE?,DETAIL": "DEFROST"})
	_, err := New(f, DefaultConfig()).Status(context.Background())
	var rerr *ResponseError
	assert.ErrorAs(t, err, &rerr)
}

func TestSCP220StatusWithoutDetail(t *testing.T) {
	f := newFakeClient(map[string]string{"MON?": "25.0,,RUN,0", "MODE?": "RUN"})
	status, err := New(f, Config{Model: ModelSCP220, Loops: 1}).Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, chamber.StatusProgramRunning, status)
	assert.Equal(t, 0, f.count("MODE?,DETAIL"))
}

func TestAlarms(t *testing.T) {
	f := newFakeClient(map[string]string{"ALARM?": "2,6,12"})
	alarms, err := New(f, DefaultConfig()).Alarms(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{6, 12}, alarms.Active)
	assert.Len(t, alarms.Inactive, len(alarmCodes)-2)
	assert.NotContains(t, alarms.Inactive, 6)
	assert.Contains(t, alarms.Inactive, 99)

	f = newFakeClient(map[string]string{"ALARM?": "0"})
	alarms, err = New(f, DefaultConfig()).Alarms(context.Background())
	require.NoError(t, err)
	assert.Empty(t, alarms.Active)
	assert.Equal(t, alarmCodes, alarms.Inactive)
}

func TestEvents(t *testing.T) {
	f := newFakeClient(map[string]string{
		"RELAY?":              "ON,1,5",
		"CONSTANT SET?,RELAY": "ON,5,12",
	})
	c := New(f, DefaultConfig())
	ctx := context.Background()

	e, err := c.Event(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, chamber.Toggle{Constant: false, Current: true}, e)
	e, err = c.Event(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, chamber.Toggle{Constant: true, Current: false}, e)
	_, err = c.Event(ctx, 13)
	assert.ErrorIs(t, err, chamber.ErrIndexOutOfRange)

	f.reset()
	require.NoError(t, c.SetEvent(ctx, 3, true))
	require.NoError(t, c.SetEvent(ctx, 4, false))
	assert.Equal(t, []string{"RELAY,ON,3", "RELAY,OFF,4"}, f.Commands())
}

func TestOperationCommands(t *testing.T) {
	f := newFakeClient(nil)
	c := New(f, DefaultConfig())
	ctx := context.Background()
	require.NoError(t, c.StartConstant(ctx))
	require.NoError(t, c.StartProgram(ctx, 4, 2))
	require.NoError(t, c.PauseProgram(ctx))
	require.NoError(t, c.ResumeProgram(ctx))
	require.NoError(t, c.AdvanceProgram(ctx))
	require.NoError(t, c.Stop(ctx))
	require.NoError(t, c.DeleteProgram(ctx, 40))
	assert.Equal(t, []string{
		"MODE,CONSTANT",
		"PRGM,RUN,RAM:4,STEP2",
		"PRGM,PAUSE",
		"PRGM,CONTINUE",
		"PRGM,ADVANCE",
		"MODE,STANDBY",
		"PRGM ERASE,RAM:40",
	}, f.Commands())

	assert.ErrorIs(t, c.StartProgram(ctx, 41, 1), chamber.ErrIndexOutOfRange)

	scp := New(newFakeClient(nil), Config{Model: ModelSCP220, Loops: 1})
	assert.ErrorIs(t, scp.DeleteProgram(ctx, 21), chamber.ErrIndexOutOfRange)
}

func TestSCP220ReadsROMPrograms(t *testing.T) {
	f := newFakeClient(nil)
	c := New(f, Config{Model: ModelSCP220, Loops: 1})
	require.NoError(t, c.StartProgram(context.Background(), 25, 1))
	assert.Equal(t, []string{"PRGM,RUN,ROM:25,STEP1"}, f.Commands())
}

func TestDateTime(t *testing.T) {
	f := newFakeClient(map[string]string{"DATE?": "24.03/15", "TIME?": "13:04:05"})
	c := New(f, DefaultConfig())
	ctx := context.Background()

	got, err := c.DateTime(ctx)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 15, 13, 4, 5, 0, time.Local), got)

	f.reset()
	require.NoError(t, c.SetDateTime(ctx, time.Date(2024, 3, 15, 13, 4, 5, 0, time.Local)))
	assert.Equal(t, []string{"TIME,13:4:5", "DATE,24.3/15. FRI"}, f.Commands())
}

func TestRefrigeration(t *testing.T) {
	tests := []struct {
		response string
		model    string
		want     chamber.Refrigeration
	}{
		{"50", ModelP300, chamber.Refrigeration{Mode: "manual", Setpoint: 50}},
		{"AUTO", ModelP300, chamber.Refrigeration{Mode: "auto"}},
		{"OFF", ModelP300, chamber.Refrigeration{Mode: "off"}},
		{"SPECIAL", ModelSCP220, chamber.Refrigeration{Mode: "auto"}},
	}
	for _, tt := range tests {
		t.Run(tt.response, func(t *testing.T) {
			f := newFakeClient(map[string]string{"CONSTANT SET?,REF": tt.response})
			r, err := New(f, Config{Model: tt.model, Loops: 1}).Refrigeration(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, r)
		})
	}

	f := newFakeClient(nil)
	c := New(f, DefaultConfig())
	require.NoError(t, c.SetRefrigeration(context.Background(), chamber.Refrigeration{Mode: "Manual", Setpoint: 20}))
	require.NoError(t, c.SetRefrigeration(context.Background(), chamber.Refrigeration{Mode: "auto"}))
	assert.Error(t, c.SetRefrigeration(context.Background(), chamber.Refrigeration{Mode: "manual", Setpoint: 30}))
	assert.Equal(t, []string{"SET,REF1", "SET,REF9"}, f.Commands())
}

func TestNetworkSettings(t *testing.T) {
	f := newFakeClient(map[string]string{"IPSET?": "192.168.0.10,255.255.255.0,192.168.0.1"})
	c := New(f, DefaultConfig())
	ctx := context.Background()

	ns, err := c.NetworkSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, chamber.NetworkSettings{Address: "192.168.0.10", Mask: "255.255.255.0", Gateway: "192.168.0.1"}, ns)

	f.reset()
	require.NoError(t, c.SetNetworkSettings(ctx, &chamber.NetworkSettings{Address: "10.0.0.2", Mask: "255.0.0.0"}))
	require.NoError(t, c.SetNetworkSettings(ctx, nil))
	assert.Error(t, c.SetNetworkSettings(ctx, &chamber.NetworkSettings{Address: "not an address"}))
	assert.Equal(t, []string{"IPSET,10.0.0.2,255.0.0.0,0.0.0.0", "IPSET,0.0.0.0,0.0.0.0,0.0.0.0"}, f.Commands())

	_, err = New(f, Config{Model: ModelSCP220}).NetworkSettings(ctx)
	assert.ErrorIs(t, err, chamber.ErrNotSupported)
}

func TestProcessController(t *testing.T) {
	f := newFakeClient(map[string]string{
		"ROM?":  "P300 VER 1.10",
		"HUMI?": "45.0,50.0,98.0,20.0",
	})
	f.rejects["TEMP PTC?"] = "CONT NOT READY-1"
	c := New(f, Config{Cascades: 1})

	name, err := c.ProcessController(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "P300 W/Humidity", name)
	assert.Equal(t, []chamber.LoopRef{loop1, loop2}, c.Loops())

	f = newFakeClient(map[string]string{"ROM?": "SCP-220 VER 2"})
	f.rejects["HUMI?"] = "CONT NOT READY-1"
	c = New(f, DefaultConfig())
	name, err = c.ProcessController(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, "SCP-220 W/PTCON", name)
	assert.Equal(t, []chamber.LoopRef{cascade1}, c.Loops())

	// Without update the configured loops are described.
	c = New(newFakeClient(map[string]string{"ROM?": "P300"}), Config{Cascades: 1, Loops: 1})
	name, err = c.ProcessController(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "P300 W/PTCON W/Humidity", name)
}

func TestRaw(t *testing.T) {
	f := newFakeClient(map[string]string{"TEMP?": "23.5,25.0,100.0,-40.0"})
	f.rejects["BOGUS"] = "CMD ERR"
	f.fail = func(command string) error {
		if command == "SLOW?" {
			return fmt.Errorf("%w to %q after 0 bytes", ascii.ErrNoResponse, command)
		}
		return nil
	}
	c := New(f, DefaultConfig())
	ctx := context.Background()

	for request, want := range map[string]string{
		"TEMP?": "23.5,25.0,100.0,-40.0",
		"BOGUS": "NA:CMD ERR",
		"SLOW?": "NA: SERIAL TIMEOUT",
	} {
		got, err := c.Raw(ctx, []byte(request))
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
}

func testProgram(steps int) *Program {
	p := &Program{Name: "SOAK", End: EndStandby}
	for i := 0; i < steps; i++ {
		p.Steps = append(p.Steps, Step{
			Duration:      30 * time.Minute,
			Refrigeration: chamber.Refrigeration{Mode: "auto"},
			Temperature:   StepTemperature{Setpoint: float64(10 * i)},
		})
	}
	return p
}

func TestSetProgramCancelsOnFailure(t *testing.T) {
	f := newFakeClient(nil)
	f.fail = func(command string) error {
		if strings.HasPrefix(command, "PRGM DATA WRITE, PGM3, STEP3,") {
			return &ascii.RejectedError{Command: command, Message: "PRGM WRITE ERR-13"}
		}
		return nil
	}
	c := New(f, DefaultConfig())

	err := c.SetProgram(context.Background(), 3, testProgram(5))
	var rerr *ascii.RejectedError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, "PRGM WRITE ERR-13", rerr.Message)

	commands := f.Commands()
	require.Len(t, commands, 5)
	assert.Equal(t, "PRGM DATA WRITE, PGM3, EDIT START", commands[0])
	assert.True(t, strings.HasPrefix(commands[1], "PRGM DATA WRITE, PGM3, STEP1,"))
	assert.True(t, strings.HasPrefix(commands[2], "PRGM DATA WRITE, PGM3, STEP2,"))
	assert.True(t, strings.HasPrefix(commands[3], "PRGM DATA WRITE, PGM3, STEP3,"))
	assert.Equal(t, "PRGM DATA WRITE, PGM3, EDIT CANCEL", commands[4])
}

func TestSetProgramCancelsOnFailedCommit(t *testing.T) {
	f := newFakeClient(nil)
	f.rejects["PRGM DATA WRITE, PGM1, EDIT END"] = "PRGM WRITE ERR-11"
	c := New(f, DefaultConfig())

	err := c.SetProgram(context.Background(), 1, testProgram(1))
	require.Error(t, err)
	commands := f.Commands()
	assert.Equal(t, "PRGM DATA WRITE, PGM1, EDIT CANCEL", commands[len(commands)-1])
}

func TestSetProgramCommands(t *testing.T) {
	f := newFakeClient(nil)
	c := New(f, DefaultConfig())
	sv := 25.0
	p := &Program{
		Name:        "CYCLE",
		End:         EndRun,
		Next:        7,
		CounterA:    Counter{Start: 1, End: 2, Cycles: 3},
		Temperature: &Detail{Range: &chamber.Range{Min: -40, Max: 100}, Mode: "SV", Setpoint: &sv},
		Humidity:    &Detail{Range: &chamber.Range{Min: 20, Max: 98}, Mode: "OFF"},
		Steps: []Step{
			{
				Duration:       90 * time.Minute,
				GuaranteedSoak: true,
				Refrigeration:  chamber.Refrigeration{Mode: "manual", Setpoint: 50},
				Temperature:    StepTemperature{Setpoint: 85, Ramp: true},
				Humidity:       &StepHumidity{Setpoint: 85, Enable: true},
				Relays:         []bool{true, false, true},
			},
			{
				Duration:      2 * time.Hour,
				Paused:        true,
				Refrigeration: chamber.Refrigeration{Mode: "auto"},
				Temperature:   StepTemperature{Setpoint: -10},
				Humidity:      &StepHumidity{},
			},
		},
	}
	require.NoError(t, c.SetProgram(context.Background(), 2, p))
	want := []string{
		"PRGM DATA WRITE, PGM2, EDIT START",
		"PRGM DATA WRITE, PGM2, STEP1,TIME1:30,PAUSE OFF,REF3,GRANTY ON,TEMP85.0,TRAMPON,HUMI85,HRAMPOFF,RELAY ON1.3,RELAY OFF2",
		"PRGM DATA WRITE, PGM2, STEP2,TIME2:0,PAUSE ON,REF9,GRANTY OFF,TEMP-10.0,TRAMPOFF,HUMIOFF",
		"PRGM DATA WRITE,PGM2,COUNT,A(1.2.3)",
		"PRGM DATA WRITE, PGM2, NAME,CYCLE",
		"PRGM DATA WRITE, PGM2, END,RUN,PTN7",
		"PRGM DATA WRITE, PGM2, HTEMP,100.0",
		"PRGM DATA WRITE, PGM2, LTEMP,-40.0",
		"PRGM DATA WRITE, PGM2, PRE MODE, TEMP,SV",
		"PRGM DATA WRITE, PGM2, PRE TSV,25.0",
		"PRGM DATA WRITE, PGM2, HHUMI,98",
		"PRGM DATA WRITE, PGM2, LHUMI,20",
		"PRGM DATA WRITE, PGM2, PRE MODE, HUMI,OFF",
		"PRGM DATA WRITE, PGM2, EDIT END",
	}
	if diff := cmp.Diff(want, f.Commands()); diff != "" {
		t.Errorf("commands mismatch (-want +got):\n%s", diff)
	}
}

func TestSetProgramValidatesFirst(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		modify func(p *Program)
	}{
		{"read only slot", 41, func(*Program) {}},
		{"separator in name", 1, func(p *Program) { p.Name = "A,B" }},
		{"no steps", 1, func(p *Program) { p.Steps = nil }},
		{"unknown end", 1, func(p *Program) { p.End = "HOLD" }},
		{"run without next", 1, func(p *Program) { p.End = EndRun }},
		{"counter past end", 1, func(p *Program) { p.CounterB = Counter{Start: 1, End: 4, Cycles: 1} }},
		{"seconds", 1, func(p *Program) { p.Steps[0].Duration = 90 * time.Second }},
		{"refrigeration", 1, func(p *Program) { p.Steps[1].Refrigeration.Mode = "max" }},
		{"product control", 1, func(p *Program) {
			on := true
			p.Steps[0].Temperature.Cascade = &on
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeClient(nil)
			c := New(f, DefaultConfig())
			p := testProgram(3)
			tt.modify(p)
			assert.Error(t, c.SetProgram(context.Background(), tt.n, p))
			assert.Empty(t, f.Commands())
		})
	}
}

func programResponses() map[string]string {
	return map[string]string{
		"PRGM DATA?,RAM:2":        "2,<TESTPGM>,COUNT,A(1.2.3),B(0.0.0),END(RUN:4)",
		"PRGM DATA?,RAM:2,DETAIL": "100.0,-40.0,98,20,TEMPSV,25.0,HUMIOFF",
		"PRGM DATA?,RAM:2,STEP1":  "1,TEMP25.0,TEMP RAMP OFF,HUMI 50,HUMI RAMP ON,TIME1:30,GRANTY OFF,REF9,RELAY ON1.3,PAUSE OFF",
		"PRGM DATA?,RAM:2,STEP2":  "2,TEMP-10.0,TEMP RAMP ON,HUMI OFF,TIME0:45,GRANTY ON,REF6,PAUSE ON",
	}
}

func TestReadProgram(t *testing.T) {
	f := newFakeClient(programResponses())
	c := New(f, DefaultConfig())

	got, err := c.Program(context.Background(), 2)
	require.NoError(t, err)
	sv := 25.0
	relays := make([]bool, maxEvents)
	relays[0], relays[2] = true, true
	want := &Program{
		Name:        "TESTPGM",
		End:         EndRun,
		Next:        4,
		CounterA:    Counter{Start: 1, End: 2, Cycles: 3},
		Temperature: &Detail{Range: &chamber.Range{Min: -40, Max: 100}, Mode: "SV", Setpoint: &sv},
		Humidity:    &Detail{Range: &chamber.Range{Min: 20, Max: 98}, Mode: "OFF"},
		Steps: []Step{
			{
				Duration:      90 * time.Minute,
				Refrigeration: chamber.Refrigeration{Mode: "auto"},
				Temperature:   StepTemperature{Setpoint: 25},
				Humidity:      &StepHumidity{Setpoint: 50, Enable: true, Ramp: true},
				Relays:        relays,
			},
			{
				Duration:       45 * time.Minute,
				Paused:         true,
				GuaranteedSoak: true,
				Refrigeration:  chamber.Refrigeration{Mode: "manual", Setpoint: 100},
				Temperature:    StepTemperature{Setpoint: -10, Ramp: true},
				Humidity:       &StepHumidity{},
				Relays:         make([]bool, maxEvents),
			},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("program mismatch (-want +got):\n%s", diff)
	}

	// What was read writes back unchanged.
	f.reset()
	require.NoError(t, c.SetProgram(context.Background(), 2, got))
	assert.Contains(t, f.Commands(), "PRGM DATA WRITE, PGM2, STEP1,TIME1:30,PAUSE OFF,REF9,GRANTY OFF,TEMP25.0,TRAMPOFF,HUMI50,HRAMPON,RELAY ON1.3,RELAY OFF2.4.5.6.7.8.9.10.11.12")
}

func TestReadProgramWithProductControl(t *testing.T) {
	f := newFakeClient(map[string]string{
		"PRGM DATA PTC?,RAM:1":       "1,<PTC>,COUNT,A(0.0.0),B(0.0.0),END(OFF)",
		"PRGM DATA PTC?,RAM:1,STEP1": "1,TEMP25.0,TEMP RAMP OFF,PTC ON,TIME0:10,GRANTY OFF,REF0,DEVP3.0,DEVN2.0",
	})
	c := New(f, Config{Model: ModelSCP220, Cascades: 1})
	got, err := c.Program(context.Background(), 1)
	require.NoError(t, err)
	p := got.(*Program)
	assert.Nil(t, p.Temperature)
	require.Len(t, p.Steps, 1)
	require.NotNil(t, p.Steps[0].Temperature.Cascade)
	assert.True(t, *p.Steps[0].Temperature.Cascade)
	assert.Equal(t, &chamber.Deviation{Positive: 3, Negative: -2}, p.Steps[0].Temperature.Deviation)
	assert.Equal(t, 0, f.count("PRGM DATA PTC?,RAM:1,DETAIL"))
}

func TestProgramTemplate(t *testing.T) {
	f := newFakeClient(map[string]string{
		"TEMP?": "23.5,25.0,100.0,-40.0",
		"HUMI?": "45.0,50.0,98.0,20.0",
	})
	got, err := New(f, DefaultConfig()).Program(context.Background(), 0)
	require.NoError(t, err)
	p := got.(*Program)
	assert.Equal(t, EndOff, p.End)
	assert.Equal(t, &chamber.Range{Min: -40, Max: 100}, p.Temperature.Range)
	assert.Equal(t, &chamber.Range{Min: 20, Max: 98}, p.Humidity.Range)
	require.Len(t, p.Steps, 1)
	assert.Equal(t, time.Hour, p.Steps[0].Duration)
	assert.Equal(t, &StepHumidity{}, p.Steps[0].Humidity)
}

func TestProgramNotFound(t *testing.T) {
	f := newFakeClient(nil)
	f.rejects["PRGM DATA?,RAM:7"] = notStored
	c := New(f, DefaultConfig())

	_, err := c.Program(context.Background(), 7)
	assert.ErrorIs(t, err, chamber.ErrProgramNotFound)
	_, err = c.ProgramName(context.Background(), 7)
	assert.ErrorIs(t, err, chamber.ErrProgramNotFound)
	var rerr *ascii.RejectedError
	assert.ErrorAs(t, err, &rerr)
}

func TestPrograms(t *testing.T) {
	f := newFakeClient(map[string]string{"PRGM USE?,RAM:2": "SOAK,24.01/02"})
	f.fail = func(command string) error {
		if strings.HasPrefix(command, "PRGM USE?") && command != "PRGM USE?,RAM:2" {
			return &ascii.RejectedError{Command: command, Message: notStored}
		}
		return nil
	}
	programs, err := New(f, DefaultConfig()).Programs(context.Background())
	require.NoError(t, err)
	require.Len(t, programs, 40)
	assert.Equal(t, chamber.ProgramInfo{Number: 2, Name: "SOAK"}, programs[1])
	assert.Equal(t, chamber.ProgramInfo{Number: 40}, programs[39])
}

func TestProgramCounters(t *testing.T) {
	responses := programResponses()
	responses["PRGM SET?"] = "RAM:2,TESTPGM,END(RUN)"
	responses["PRGM MON?"] = "1,25.0,50.0,0:20,2,0"
	c := New(newFakeClient(responses), DefaultConfig())
	ctx := context.Background()

	counters, err := c.ProgramCounters(ctx)
	require.NoError(t, err)
	assert.Equal(t, []chamber.ProgramCounter{
		{Name: "A", Start: 1, End: 2, Cycles: 3, Remaining: 2},
		{Name: "B"},
	}, counters)

	n, err := c.CurrentProgram(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	step, err := c.CurrentStep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, step)
	left, err := c.StepTimeRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute, left)

	// Step 1 has 20m left, then step 2, two more rounds of 1-2.
	total, err := c.ProgramTimeRemaining(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20*time.Minute+45*time.Minute+2*(90+45)*time.Minute, total)
}

func TestTimeRemaining(t *testing.T) {
	hour := func(n int) Step { return Step{Duration: time.Duration(n) * time.Hour} }
	tests := []struct {
		name string
		p    Program
		m    programMonitor
		want time.Duration
	}{
		{
			name: "no counters",
			p:    Program{Steps: []Step{hour(1), hour(1), hour(1)}},
			m:    programMonitor{step: 1, remaining: 30 * time.Minute},
			want: 2*time.Hour + 30*time.Minute,
		},
		{
			name: "last step",
			p:    Program{Steps: []Step{hour(1), hour(2)}},
			m:    programMonitor{step: 2, remaining: 5 * time.Minute},
			want: 5 * time.Minute,
		},
		{
			name: "counter a",
			p:    Program{CounterA: Counter{Start: 1, End: 2, Cycles: 2}, Steps: []Step{hour(1), hour(1), hour(1)}},
			m:    programMonitor{step: 1, remaining: 10 * time.Minute, counterA: 2},
			want: 6*time.Hour + 10*time.Minute,
		},
		{
			name: "only counter b",
			p:    Program{CounterB: Counter{Start: 2, End: 2, Cycles: 1}, Steps: []Step{hour(1), hour(2), hour(3)}},
			m:    programMonitor{step: 1, remaining: 0, counterB: 1},
			want: 2*time.Hour + 2*time.Hour + 3*time.Hour,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := timeRemaining(&tt.p, tt.m)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	_, err := parseLoop("TEMP?", "23.5,25.0")
	var rerr *ResponseError
	assert.ErrorAs(t, err, &rerr)
	_, err = parseLoop("TEMP?", "x,25.0,100,0")
	assert.ErrorAs(t, err, &rerr)
	_, err = parseProgramData("PRGM DATA?,RAM:1", "garbage")
	assert.ErrorAs(t, err, &rerr)
	_, err = parseProgramMonitor("PRGM MON?", "1,25.0,1:xx,0,0")
	assert.ErrorAs(t, err, &rerr)

	m, err := parseProgramMonitor("PRGM MON?", "3,25.0,1:05,1,2")
	require.NoError(t, err)
	assert.Equal(t, programMonitor{step: 3, temperature: 25, remaining: 65 * time.Minute, counterA: 1, counterB: 2}, m)
}

func TestParseProgramSet(t *testing.T) {
	got, err := parseProgramSet("PRGM SET?", "ROM:25,FACTORY,END(HOLD)")
	require.NoError(t, err)
	assert.Equal(t, programSet{number: 25, name: "FACTORY", end: "HOLD"}, got)

	var rerr *ResponseError
	for _, bad := range []string{"RAM:x,A,END(OFF)", "DISK:1,A,END(OFF)", "RAM:1,A,OFF", "RAM:1,A"} {
		_, err := parseProgramSet("PRGM SET?", bad)
		assert.ErrorAs(t, err, &rerr, bad)
	}
}

func TestParseProgramData(t *testing.T) {
	got, err := parseProgramData("PRGM DATA?,RAM:1", "12,<SOAK 85>,COUNT,A(2.5.10),B(0.0.0),END(STANDBY)")
	require.NoError(t, err)
	assert.Equal(t, programData{
		steps:    12,
		name:     "SOAK 85",
		end:      EndStandby,
		counterA: Counter{Start: 2, End: 5, Cycles: 10},
	}, got)

	var rerr *ResponseError
	for _, bad := range []string{
		"12,SOAK,COUNT,A(0.0.0),B(0.0.0),END(OFF)",
		"12,<SOAK>,COUNT,A(0.0),B(0.0.0),END(OFF)",
		"12,<SOAK>,COUNT,A(0.0.0),B(0.0.0),END()",
		"x,<SOAK>,COUNT,A(0.0.0),B(0.0.0),END(OFF)",
	} {
		_, err := parseProgramData("PRGM DATA?,RAM:1", bad)
		assert.ErrorAs(t, err, &rerr, bad)
	}
}

func TestParseProgramDetail(t *testing.T) {
	temp, humi, err := parseProgramDetail("PRGM DATA?,RAM:1,DETAIL", "150.0,-70.0,TEMPOFF")
	require.NoError(t, err)
	assert.Equal(t, &Detail{Range: &chamber.Range{Min: -70, Max: 150}, Mode: "OFF"}, temp)
	assert.Nil(t, humi)

	sv := 60.0
	_, humi, err = parseProgramDetail("PRGM DATA?,RAM:1,DETAIL", "150.0,-70.0,95,10,TEMPOFF,HUMISV,60")
	require.NoError(t, err)
	assert.Equal(t, &Detail{Range: &chamber.Range{Min: 10, Max: 95}, Mode: "SV", Setpoint: &sv}, humi)

	var rerr *ResponseError
	_, _, err = parseProgramDetail("PRGM DATA?,RAM:1,DETAIL", "150.0,-70.0,SV")
	assert.ErrorAs(t, err, &rerr)
}

func TestParseStepRequiresFields(t *testing.T) {
	var rerr *ResponseError
	for _, bad := range []string{
		"1,TEMP RAMP OFF,HUMI OFF,GRANTY OFF,REF0,PAUSE OFF",
		"1,TEMP25.0,TEMP RAMP OFF,TIMEx:30,GRANTY OFF,REF0",
		"1,TEMPhot,TEMP RAMP OFF,TIME1:30,GRANTY OFF,REF0",
		"one,TEMP25.0,TEMP RAMP OFF,TIME1:30,GRANTY OFF,REF0",
	} {
		_, err := parseStep("PRGM DATA?,RAM:1,STEP1", bad, false)
		assert.ErrorAs(t, err, &rerr, bad)
	}
}

// serve answers each line received on a loopback listener.
func serve(t *testing.T, answer func(line string) string) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					fmt.Fprintf(conn, "%s\r\n", answer(strings.TrimRight(line, "\r\n")))
				}
			}(conn)
		}
	}()
	return l.Addr().String()
}

func TestSampleOverTCP(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]int{}
	responses := map[string]string{
		"DATE?":              "24.03/15",
		"TIME?":              "13:04:05",
		"TEMP?":              "23.5,25.0,100.0,-40.0",
		"CONSTANT SET?,TEMP": "25.0,ON",
		"HUMI?":              "45.0,50.0,98.0,20.0",
		"CONSTANT SET?,HUMI": "50.0,ON",
		"MODE?":              "CONSTANT",
		"MODE?,DETAIL":       "CONSTANT",
		"MON?":               "23.5,45.0,CONSTANT,0",
		"%?":                 "2,40.0,30.0",
	}
	addr := serve(t, func(line string) string {
		mu.Lock()
		seen[line]++
		mu.Unlock()
		if r, ok := responses[line]; ok {
			return r
		}
		return "NA:CMD ERR"
	})
	handler := ascii.NewTCPClientHandler(addr)
	handler.Timeout = 2 * time.Second
	ch := chamber.New(New(handler, DefaultConfig()))

	s, err := ch.Sample(context.Background(), chamber.SampleOptions{})
	require.NoError(t, err)
	assert.Equal(t, chamber.StatusConstant, s.Status)
	require.Len(t, s.Loops, 2)
	assert.Equal(t, "Temp", s.Loops[0].Name)
	assert.Equal(t, 25.0, s.Loops[0].Setpoint.Current)
	assert.Equal(t, 45.0, s.Loops[1].ProcessValue.Air)
	assert.Equal(t, chamber.LoopMode{Constant: "On", Current: "On"}, *s.Loops[1].Mode)

	mu.Lock()
	defer mu.Unlock()
	for command, n := range seen {
		assert.Equal(t, 1, n, "%s sent %d times", command, n)
	}
}

func TestErrorsPropagate(t *testing.T) {
	f := newFakeClient(nil)
	boom := errors.New("line down")
	f.fail = func(string) error { return boom }
	ch := chamber.New(New(f, DefaultConfig()))
	_, err := ch.Status(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, f.closes)
}
