/*
Package espec implements chamber.Ops for the Espec P300 and SCP-220
controllers over the ASCII command protocol.

The controllers answer one query with several values at once ("TEMP?"
returns the process value, setpoint and range). Query responses are cached
for the length of one session so that a composite read issues each command
once. Any command that changes controller state empties the cache.

Loop 1 is temperature and loop 2 humidity. A chamber with product
temperature control reports temperature as cascade 1.
*/
package espec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/ascii"
)

// Controller models.
const (
	ModelP300   = "P300"
	ModelSCP220 = "SCP220"
)

const (
	temperatureLoop = 1
	humidityLoop    = 2

	maxEvents = 12
	maxSteps  = 99
)

// alarmCodes lists the alarm codes the controllers report.
var alarmCodes = []int{0, 1, 2, 3, 6, 7, 8, 9, 10, 11, 12, 18, 19, 21, 22, 23, 26, 30, 31, 40, 41, 43, 46, 48, 50, 51, 99}

// Config describes the controller model and its loops.
type Config struct {
	// Model is ModelP300 (default) or ModelSCP220.
	Model string `yaml:"model"`
	// Loops counts the plain loops: temperature unless it is a cascade,
	// and humidity.
	Loops int `yaml:"loops"`
	// Cascades is 1 with product temperature control, else 0.
	Cascades int `yaml:"cascades"`
	// Freshness bounds the age of a cached response. 0 keeps responses
	// for the whole session.
	Freshness time.Duration `yaml:"freshness"`
}

// DefaultConfig returns the configuration of a temperature and humidity
// P300 chamber.
func DefaultConfig() Config {
	return Config{Model: ModelP300, Loops: 2}
}

type cached struct {
	at       time.Time
	response string
}

// P300 is an Espec P300 or SCP-220 controller.
type P300 struct {
	client ascii.Client
	now    func() time.Time

	// mu guards the fields ProcessController may re-detect.
	mu  sync.RWMutex
	cfg Config

	cacheMu sync.Mutex
	cache   map[string]cached
}

var _ chamber.Ops = (*P300)(nil)

// New creates a controller talking through client.
func New(client ascii.Client, cfg Config) *P300 {
	if cfg.Model == "" {
		cfg.Model = ModelP300
	}
	return &P300{
		client: client,
		now:    time.Now,
		cfg:    cfg,
		cache:  make(map[string]cached),
	}
}

// Connect opens the transport and starts with an empty cache.
func (c *P300) Connect() error {
	c.flush()
	return c.client.Connect()
}

// Close closes the transport.
func (c *P300) Close() error {
	c.flush()
	return c.client.Close()
}

func (c *P300) config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

func (c *P300) scp220() bool {
	return c.config().Model == ModelSCP220
}

// totalPrograms counts the program slots, writablePrograms the ones held
// in RAM.
func (c *P300) totalPrograms() int {
	if c.scp220() {
		return 30
	}
	return 40
}

func (c *P300) writablePrograms() int {
	if c.scp220() {
		return 20
	}
	return 40
}

// memory names the program store holding program n.
func (c *P300) memory(n int) string {
	if n <= c.writablePrograms() {
		return "RAM"
	}
	return "ROM"
}

func (c *P300) flush() {
	c.cacheMu.Lock()
	c.cache = make(map[string]cached)
	c.cacheMu.Unlock()
}

// query sends a read command. A response to the same command received
// within the freshness window of this session is reused.
func (c *P300) query(ctx context.Context, command string) (string, error) {
	freshness := c.config().Freshness
	c.cacheMu.Lock()
	e, ok := c.cache[command]
	c.cacheMu.Unlock()
	if ok && (freshness <= 0 || c.now().Sub(e.at) <= freshness) {
		return e.response, nil
	}
	response, err := c.client.Interact(ctx, command)
	if err != nil {
		return "", err
	}
	c.cacheMu.Lock()
	c.cache[command] = cached{at: c.now(), response: response}
	c.cacheMu.Unlock()
	return response, nil
}

// send sends a command that changes the controller state.
func (c *P300) send(ctx context.Context, format string, a ...interface{}) error {
	c.flush()
	_, err := c.client.Interact(ctx, fmt.Sprintf(format, a...))
	return err
}

// Loops lists temperature first, as a cascade with product control, then
// humidity when installed.
func (c *P300) Loops() []chamber.LoopRef {
	cfg := c.config()
	loops := []chamber.LoopRef{{Kind: chamber.Loop, Number: temperatureLoop}}
	if cfg.Cascades > 0 {
		loops[0].Kind = chamber.Cascade
	}
	if c.humidity(cfg) {
		loops = append(loops, chamber.LoopRef{Kind: chamber.Loop, Number: humidityLoop})
	}
	return loops
}

func (c *P300) humidity(cfg Config) bool {
	return cfg.Loops+cfg.Cascades > 1
}

// LoopNames maps the temperature and humidity names to loop indexes.
func (c *P300) LoopNames() map[string]int {
	names := map[string]int{"Temperature": 0, "temperature": 0, "Temp": 0, "temp": 0}
	if c.humidity(c.config()) {
		for _, name := range []string{"Humidity", "humidity", "Hum", "hum"} {
			names[name] = 1
		}
	}
	return names
}

// checkLoop accepts cascade 1 with product control, loop 1 and, with
// humidity, loop 2.
func (c *P300) checkLoop(loop chamber.LoopRef) error {
	cfg := c.config()
	if loop.Kind == chamber.Cascade {
		return chamber.CheckIndex("cascade", loop.Number, 1, cfg.Cascades)
	}
	last := temperatureLoop
	if c.humidity(cfg) {
		last = humidityLoop
	}
	return chamber.CheckIndex("loop", loop.Number, 1, last)
}

// Raw sends request as a command. A rejection is answered as "NA:<reason>"
// and a silent controller as "NA: SERIAL TIMEOUT".
func (c *P300) Raw(ctx context.Context, request []byte) ([]byte, error) {
	c.flush()
	response, err := c.client.Interact(ctx, string(request))
	var rerr *ascii.RejectedError
	switch {
	case errors.As(err, &rerr):
		return []byte("NA:" + rerr.Message), nil
	case errors.Is(err, ascii.ErrNoResponse):
		return []byte("NA: SERIAL TIMEOUT"), nil
	case err != nil:
		return nil, err
	}
	return []byte(response), nil
}
