package config

import (
	"fmt"
	"time"

	"github.com/grid-x/serial"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/ascii"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/espec"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/modbus"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/session"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/watlow"
)

// Logger receives frame traces and session warnings.
type Logger interface {
	Printf(format string, v ...interface{})
}

// leases is shared by the chambers of one process that name the same
// lock key.
var leases = session.NewMemoryStore()

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// Build creates the chamber cfg describes. No connection is opened. A nil
// logger disables tracing.
func Build(cfg *Config, logger Logger) (*chamber.Chamber, error) {
	ops, err := newOps(cfg, logger)
	if err != nil {
		return nil, err
	}
	var opts []session.Option
	if d := ms(cfg.Session.SettleDelayMs); d > 0 {
		opts = append(opts, session.WithSettleDelay(d))
	}
	if logger != nil {
		opts = append(opts, session.WithLogger(logger))
	}
	if cfg.Session.LockKey != "" {
		l := session.NewLeaseLock(leases, cfg.Session.LockKey)
		if d := ms(cfg.Session.LockTimeoutMs); d > 0 {
			l.Timeout = d
		}
		if d := ms(cfg.Session.LeaseMs); d > 0 {
			l.Expires = d
		}
		opts = append(opts, session.WithLocker(l))
	}
	return chamber.New(ops, opts...), nil
}

func newOps(cfg *Config, logger Logger) (chamber.Ops, error) {
	t := cfg.Transport
	switch cfg.Controller {
	case Watlow:
		var opts []modbus.ClientOption
		if t.FrameRetry {
			opts = append(opts, modbus.WithFrameRetry())
		}
		h, err := modbusHandler(t, logger)
		if err != nil {
			return nil, err
		}
		return watlow.New(h, cfg.Watlow, opts...), nil
	case Espec:
		c, err := asciiClient(t, logger)
		if err != nil {
			return nil, err
		}
		return espec.New(c, cfg.Espec), nil
	}
	return nil, fmt.Errorf("config: unsupported controller %q", cfg.Controller)
}

func modbusHandler(t TransportConfig, logger Logger) (modbus.ClientHandler, error) {
	switch t.Type {
	case TCP:
		h := modbus.NewTCPClientHandler(t.Address)
		h.SlaveID = byte(t.UnitID)
		if t.TimeoutMs > 0 {
			h.Timeout = ms(t.TimeoutMs)
		}
		if logger != nil {
			h.Logger = logger
		}
		return h, nil
	case Serial:
		h := modbus.NewRTUClientHandler(t.Address)
		h.SlaveID = byte(t.UnitID)
		applySerial(&h.Config, t)
		if t.IdleTimeoutMs > 0 {
			h.IdleTimeout = ms(t.IdleTimeoutMs)
		}
		h.FrameDelay = ms(t.FrameDelayMs)
		if logger != nil {
			h.Logger = logger
		}
		return h, nil
	}
	return nil, fmt.Errorf("config: unsupported transport %q", t.Type)
}

func asciiClient(t TransportConfig, logger Logger) (ascii.Client, error) {
	switch t.Type {
	case TCP:
		h := ascii.NewTCPClientHandler(t.Address)
		if t.TimeoutMs > 0 {
			h.Timeout = ms(t.TimeoutMs)
		}
		if logger != nil {
			h.Logger = logger
		}
		return h, nil
	case Serial:
		h := ascii.NewSerialClientHandler(t.Address, t.UnitID)
		applySerial(&h.Config, t)
		if t.IdleTimeoutMs > 0 {
			h.IdleTimeout = ms(t.IdleTimeoutMs)
		}
		if logger != nil {
			h.Logger = logger
		}
		return h, nil
	}
	return nil, fmt.Errorf("config: unsupported transport %q", t.Type)
}

func applySerial(c *serial.Config, t TransportConfig) {
	c.BaudRate = t.BaudRate
	c.DataBits = t.DataBits
	c.Parity = t.Parity
	c.StopBits = t.StopBits
	if t.TimeoutMs > 0 {
		c.Timeout = ms(t.TimeoutMs)
	}
	if r := t.RS485; r != nil {
		c.RS485 = serial.RS485Config{
			Enabled:            r.Enabled,
			DelayRtsBeforeSend: ms(r.DelayRtsBeforeSendMs),
			DelayRtsAfterSend:  ms(r.DelayRtsAfterSendMs),
			RtsHighDuringSend:  r.RtsHighDuringSend,
			RtsHighAfterSend:   r.RtsHighAfterSend,
			RxDuringTx:         r.RxDuringTx,
		}
	}
}
