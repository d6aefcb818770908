/*
Package watlow implements chamber.Ops for the Watlow F4T controller over
Modbus RTU or Modbus TCP.

Floating point values occupy two registers, low word first. Control loops
repeat every 160 registers, cascade loops every 200.
*/
package watlow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/modbus"
)

const (
	loopStride    = 160
	cascadeStride = 200

	// maxEvents counts the profile events (1-8) and the key events (9-12).
	maxEvents   = 12
	maxPrograms = 40
)

// Config describes how a controller is wired.
type Config struct {
	// Loops and Cascades count the plain and cascade control loops.
	Loops    int `yaml:"loops"`
	Cascades int `yaml:"cascades"`
	// CondEvent is the event that runs the chamber in constant mode, 0 for
	// none. With CondEventToggle it is held on, otherwise it is pressed.
	CondEvent       int  `yaml:"cond_event"`
	CondEventToggle bool `yaml:"cond_event_toggle"`
	// Limits lists the limit controllers to report in Alarms.
	Limits []int `yaml:"limits"`
	// LoopEvents, CascadeEvents and CascadeCtlEvents give per loop the event
	// that enables it (or its cascade control); 0 for none.
	LoopEvents       []int `yaml:"loop_events"`
	CascadeEvents    []int `yaml:"cascade_events"`
	CascadeCtlEvents []int `yaml:"cascade_ctl_events"`
	// Waits names the profile wait inputs, "" where unused.
	Waits []string `yaml:"waits"`
	// RunModule and RunIO locate the digital output that reads on while the
	// chamber runs. RunModule 0 disables the check.
	RunModule int `yaml:"run_module"`
	RunIO     int `yaml:"run_io"`
	// Alarms counts the alarm channels.
	Alarms int `yaml:"alarms"`
	// Profiles is set when the controller has the profile engine.
	Profiles bool `yaml:"profiles"`
	// LoopNames name the loops in loop map order.
	LoopNames []string `yaml:"loop_names"`
	// WordOrder is the order of the two registers of float values. The F4T
	// ships low word first.
	WordOrder codec.WordOrder `yaml:"word_order"`

	// ConstantDelay, StartDelay and AdvanceDelay give the controller time
	// to settle after a profile was terminated.
	ConstantDelay time.Duration `yaml:"constant_delay"`
	StartDelay    time.Duration `yaml:"start_delay"`
	AdvanceDelay  time.Duration `yaml:"advance_delay"`
}

// DefaultConfig returns the configuration of a single loop chamber.
func DefaultConfig() Config {
	return Config{
		Loops:            1,
		CondEvent:        9,
		Limits:           []int{5},
		LoopEvents:       []int{0, 0, 0, 0},
		CascadeEvents:    []int{0, 0, 0, 0},
		CascadeCtlEvents: []int{0, 0, 0, 0},
		Waits:            []string{"", "", "", ""},
		RunModule:        1,
		RunIO:            1,
		Alarms:           6,
		ConstantDelay:    500 * time.Millisecond,
		StartDelay:       2 * time.Second,
		AdvanceDelay:     time.Second,
	}
}

// F4T is a Watlow F4T controller.
type F4T struct {
	handler modbus.ClientHandler
	client  modbus.Client
	order   codec.WordOrder
	// unitsRegister holds the temperature scale; it moved between the RTU
	// and TCP register maps.
	unitsRegister uint16

	// mu guards the fields ProcessController may re-detect.
	mu  sync.RWMutex
	cfg Config
}

var _ chamber.Ops = (*F4T)(nil)

// New creates an F4T talking through handler.
func New(handler modbus.ClientHandler, cfg Config, opts ...modbus.ClientOption) *F4T {
	c := &F4T{
		handler:       handler,
		client:        modbus.NewClient(handler, opts...),
		order:         cfg.WordOrder,
		unitsRegister: 6730,
		cfg:           cfg,
	}
	if _, ok := handler.(*modbus.RTUClientHandler); ok {
		c.unitsRegister = 14080
	}
	return c
}

// Connect opens the transport.
func (c *F4T) Connect() error {
	return c.handler.Connect()
}

// Close closes the transport.
func (c *F4T) Close() error {
	return c.handler.Close()
}

func (c *F4T) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// Loops lists the cascade loops, then the plain loops.
func (c *F4T) Loops() []chamber.LoopRef {
	cfg := c.config()
	loops := make([]chamber.LoopRef, 0, cfg.Cascades+cfg.Loops)
	for i := 1; i <= cfg.Cascades; i++ {
		loops = append(loops, chamber.LoopRef{Kind: chamber.Cascade, Number: i})
	}
	for i := 1; i <= cfg.Loops; i++ {
		loops = append(loops, chamber.LoopRef{Kind: chamber.Loop, Number: i})
	}
	return loops
}

// LoopNames maps the configured names to loop indexes. Names are ignored
// unless there is one per loop.
func (c *F4T) LoopNames() map[string]int {
	cfg := c.config()
	names := make(map[string]int)
	if len(cfg.LoopNames) != cfg.Loops+cfg.Cascades {
		return names
	}
	for i, name := range cfg.LoopNames {
		names[name] = i
	}
	return names
}

func (c *F4T) checkLoop(loop chamber.LoopRef) error {
	cfg := c.config()
	if loop.Kind == chamber.Cascade {
		return chamber.CheckIndex("cascade", loop.Number, 1, cfg.Cascades)
	}
	return chamber.CheckIndex("loop", loop.Number, 1, cfg.Loops)
}

// loopIndex is the 1-based position of loop in Loops.
func (c *F4T) loopIndex(loop chamber.LoopRef) int {
	if loop.Kind == chamber.Cascade {
		return loop.Number
	}
	return c.config().Cascades + loop.Number
}

// loopEvent returns the event enabling loop, 0 for none.
func (c *F4T) loopEvent(loop chamber.LoopRef) int {
	cfg := c.config()
	if loop.Kind == chamber.Cascade {
		return eventAt(cfg.CascadeEvents, loop.Number)
	}
	return eventAt(cfg.LoopEvents, loop.Number)
}

func eventAt(events []int, n int) int {
	if n < 1 || n > len(events) {
		return 0
	}
	return events[n-1]
}

// regs is a register with its loop and cascade instances.
type regs struct {
	loop, cascade uint16
}

func (r regs) at(loop chamber.LoopRef) uint16 {
	if loop.Kind == chamber.Cascade {
		return r.cascade + uint16(loop.Number-1)*cascadeStride
	}
	return r.loop + uint16(loop.Number-1)*loopStride
}

func cascadeReg(base uint16, loop chamber.LoopRef) uint16 {
	return base + uint16(loop.Number-1)*cascadeStride
}

func (c *F4T) words(ctx context.Context, address, quantity uint16) ([]uint16, error) {
	return c.client.ReadHoldingRegisters(ctx, address, quantity)
}

func (c *F4T) word(ctx context.Context, address uint16) (uint16, error) {
	w, err := c.words(ctx, address, 1)
	if err != nil {
		return 0, err
	}
	return w[0], nil
}

func (c *F4T) writeWord(ctx context.Context, address, value uint16) error {
	return c.client.WriteSingleRegister(ctx, address, value)
}

func (c *F4T) float(address uint16) codec.Field {
	return codec.Field{Register: address, Kind: codec.Float, Order: c.order}
}

// readFloat reads a float rounded to one decimal.
func (c *F4T) readFloat(ctx context.Context, address uint16) (float64, error) {
	w, err := c.words(ctx, address, 2)
	if err != nil {
		return 0, err
	}
	return c.toFloat(w), nil
}

func (c *F4T) toFloat(w []uint16) float64 {
	return round1(float64(codec.WordsToFloat(w[0], w[1], c.order)))
}

func (c *F4T) writeFloat(ctx context.Context, address uint16, value float64) error {
	w, err := c.float(address).Encode(codec.Value{Number: value})
	if err != nil {
		return err
	}
	return c.client.WriteMultipleRegisters(ctx, address, w)
}

func (c *F4T) readString(ctx context.Context, address uint16, length int) (string, error) {
	w, err := c.words(ctx, address, uint16(length))
	if err != nil {
		return "", err
	}
	return codec.WordsToString(w), nil
}

func (c *F4T) writeString(ctx context.Context, address uint16, s string, length int) error {
	w, err := codec.StringToWords(s, length)
	if err != nil {
		return err
	}
	return c.client.WriteMultipleRegisters(ctx, address, w)
}

// readName reads an enumeration register.
func (c *F4T) readName(ctx context.Context, address uint16) (string, error) {
	code, err := c.word(ctx, address)
	if err != nil {
		return "", err
	}
	name, ok := Values.Name(code)
	if !ok {
		return "", fmt.Errorf("watlow: register %d holds unknown value %d", address, code)
	}
	return name, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func onOff(v bool) uint16 {
	if v {
		return codeOn
	}
	return codeOff
}

// sleep waits d unless ctx is done first.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReadItems reads a list of register map entries in order.
func (c *F4T) ReadItems(ctx context.Context, fields []codec.Field) ([]codec.Value, error) {
	values := make([]codec.Value, 0, len(fields))
	for _, f := range fields {
		var (
			w   []uint16
			err error
		)
		if f.Input {
			w, err = c.client.ReadInputRegisters(ctx, f.Register, f.Quantity())
		} else {
			w, err = c.client.ReadHoldingRegisters(ctx, f.Register, f.Quantity())
		}
		if err != nil {
			return nil, fmt.Errorf("watlow: reading register %d: %w", f.Register, err)
		}
		v, err := f.Decode(w)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// Raw sends a Modbus PDU (function code followed by data) and returns the
// response PDU.
func (c *F4T) Raw(ctx context.Context, request []byte) ([]byte, error) {
	if len(request) == 0 {
		return nil, errors.New("watlow: empty request")
	}
	resp, err := c.client.Send(ctx, &modbus.ProtocolDataUnit{FunctionCode: request[0], Data: request[1:]})
	if err != nil {
		return nil, err
	}
	return append([]byte{resp.FunctionCode}, resp.Data...), nil
}

// sortedEvents returns the distinct non-zero events in lists.
func sortedEvents(lists ...[]int) []int {
	seen := make(map[int]bool)
	var out []int
	for _, l := range lists {
		for _, e := range l {
			if e > 0 && !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		}
	}
	sort.Ints(out)
	return out
}
