package config

import (
	"net"
	"strings"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/ascii"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/espec"
)

const modbusPort = "502"

// Controllers drop connections opened too soon after the last one closed.
const tcpSettleDelayMs = 100

// Normalize fills defaults and canonicalizes names. It must run before
// Validate.
func Normalize(cfg *Config) {
	if cfg == nil {
		return
	}
	cfg.Controller = strings.ToLower(strings.TrimSpace(cfg.Controller))
	if cfg.Name == "" {
		cfg.Name = cfg.Controller
	}

	t := &cfg.Transport
	t.Type = strings.ToLower(strings.TrimSpace(t.Type))
	if t.Type == "" {
		t.Type = TCP
	}
	t.Address = strings.TrimSpace(t.Address)
	if t.Type == TCP && t.Address != "" {
		if _, _, err := net.SplitHostPort(t.Address); err != nil {
			port := modbusPort
			if cfg.Controller == Espec {
				port = ascii.DefaultPort
			}
			t.Address = net.JoinHostPort(t.Address, port)
		}
	}
	if t.Type == TCP && cfg.Session.SettleDelayMs == 0 {
		cfg.Session.SettleDelayMs = tcpSettleDelayMs
	}
	if cfg.Controller == Watlow && t.UnitID == 0 {
		t.UnitID = 1
	}
	if t.Type == Serial {
		if t.BaudRate == 0 {
			t.BaudRate = 9600
		}
		if t.DataBits == 0 {
			t.DataBits = 8
		}
		if t.StopBits == 0 {
			t.StopBits = 1
		}
		t.Parity = strings.ToUpper(t.Parity)
		if t.Parity == "" {
			t.Parity = "N"
		}
	}

	m := strings.ToUpper(strings.ReplaceAll(cfg.Espec.Model, "-", ""))
	if m == "" {
		m = espec.ModelP300
	}
	cfg.Espec.Model = m
}
