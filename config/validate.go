package config

import (
	"fmt"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/espec"
)

// Validate checks a normalized configuration. It does not mutate it.
func Validate(cfg *Config) error {
	switch cfg.Controller {
	case Watlow:
		if err := validateWatlow(cfg); err != nil {
			return err
		}
	case Espec:
		if err := validateEspec(cfg); err != nil {
			return err
		}
	default:
		return fmt.Errorf("config: controller must be %q or %q, got %q", Watlow, Espec, cfg.Controller)
	}

	t := cfg.Transport
	switch t.Type {
	case TCP, Serial:
	default:
		return fmt.Errorf("config: transport.type must be %q or %q, got %q", TCP, Serial, t.Type)
	}
	if t.Address == "" {
		return fmt.Errorf("config: transport.address is required")
	}
	if t.TimeoutMs < 0 || t.IdleTimeoutMs < 0 || t.FrameDelayMs < 0 {
		return fmt.Errorf("config: transport timeouts must not be negative")
	}
	if t.Type == Serial {
		if t.BaudRate < 0 {
			return fmt.Errorf("config: transport.baud_rate %d is negative", t.BaudRate)
		}
		if t.DataBits < 5 || t.DataBits > 8 {
			return fmt.Errorf("config: transport.data_bits must be 5-8, got %d", t.DataBits)
		}
		if t.StopBits != 1 && t.StopBits != 2 {
			return fmt.Errorf("config: transport.stop_bits must be 1 or 2, got %d", t.StopBits)
		}
		switch t.Parity {
		case "N", "E", "O":
		default:
			return fmt.Errorf("config: transport.parity must be N, E or O, got %q", t.Parity)
		}
	} else if t.RS485 != nil {
		return fmt.Errorf("config: transport.rs485 needs a serial transport")
	}

	s := cfg.Session
	if s.SettleDelayMs < 0 || s.LockTimeoutMs < 0 || s.LeaseMs < 0 {
		return fmt.Errorf("config: session delays must not be negative")
	}

	for n := range cfg.Events {
		if n < 1 || n > 12 {
			return fmt.Errorf("config: event %d outside 1-12", n)
		}
	}
	return nil
}

func validateWatlow(cfg *Config) error {
	if id := cfg.Transport.UnitID; id < 1 || id > 247 {
		return fmt.Errorf("config: transport.unit_id must be 1-247, got %d", id)
	}
	w := cfg.Watlow
	if w.Loops < 0 || w.Cascades < 0 || w.Loops+w.Cascades < 1 || w.Loops+w.Cascades > 4 {
		return fmt.Errorf("config: watlow needs 1-4 loops and cascades, got %d and %d", w.Loops, w.Cascades)
	}
	if w.CondEvent < 0 || w.CondEvent > 12 {
		return fmt.Errorf("config: watlow.cond_event %d outside 0-12", w.CondEvent)
	}
	for name, events := range map[string][]int{
		"loop_events":        w.LoopEvents,
		"cascade_events":     w.CascadeEvents,
		"cascade_ctl_events": w.CascadeCtlEvents,
	} {
		for _, e := range events {
			if e < 0 || e > 8 {
				return fmt.Errorf("config: watlow.%s: event %d outside 0-8", name, e)
			}
		}
	}
	if w.ConstantDelay < 0 || w.StartDelay < 0 || w.AdvanceDelay < 0 {
		return fmt.Errorf("config: watlow delays must not be negative")
	}
	return nil
}

func validateEspec(cfg *Config) error {
	if a := cfg.Transport.UnitID; a < 0 || a > 16 {
		return fmt.Errorf("config: transport.unit_id must be 0-16, got %d", a)
	}
	e := cfg.Espec
	switch e.Model {
	case espec.ModelP300, espec.ModelSCP220:
	default:
		return fmt.Errorf("config: espec.model must be %s or %s, got %q", espec.ModelP300, espec.ModelSCP220, e.Model)
	}
	if e.Cascades < 0 || e.Cascades > 1 {
		return fmt.Errorf("config: espec.cascades must be 0 or 1, got %d", e.Cascades)
	}
	if e.Loops < 0 || e.Loops+e.Cascades < 1 || e.Loops+e.Cascades > 2 {
		return fmt.Errorf("config: espec needs 1-2 loops and cascades, got %d and %d", e.Loops, e.Cascades)
	}
	if e.Freshness < 0 {
		return fmt.Errorf("config: espec.freshness must not be negative")
	}
	return nil
}
