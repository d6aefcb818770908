package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/espec"
)

const especYAML = `
name: walk-in
controller: Espec
transport:
  type: tcp
  address: 192.168.1.20
espec:
  model: scp-220
  loops: 1
  cascades: 1
  freshness: 2s
session:
  settle_delay_ms: 50
  lock_key: lab-bus
events:
  1: door
  12: purge
`

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chamber.yaml")
	require.NoError(t, os.WriteFile(path, []byte(especYAML), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "walk-in", cfg.Name)
	assert.Equal(t, Espec, cfg.Controller)
	assert.Equal(t, "192.168.1.20:10001", cfg.Transport.Address)
	assert.Equal(t, espec.Config{Model: espec.ModelSCP220, Loops: 1, Cascades: 1, Freshness: 2 * time.Second}, cfg.Espec)
	assert.Equal(t, map[int]string{1: "door", 12: "purge"}, cfg.Events)
	assert.Equal(t, 50, cfg.Session.SettleDelayMs)

	ch, err := Build(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []chamber.LoopRef{
		{Kind: chamber.Cascade, Number: 1},
		{Kind: chamber.Loop, Number: 2},
	}, ch.Loops())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestWatlowDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
controller: watlow
transport:
  type: serial
  address: /dev/ttyUSB0
  parity: e
watlow:
  loops: 2
  cond_event: 10
  word_order: high
`))
	require.NoError(t, err)
	assert.Equal(t, "watlow", cfg.Name)
	assert.Equal(t, 1, cfg.Transport.UnitID)
	assert.Equal(t, 9600, cfg.Transport.BaudRate)
	assert.Equal(t, "E", cfg.Transport.Parity)
	assert.Zero(t, cfg.Session.SettleDelayMs)
	// Fields not given keep their defaults.
	assert.Equal(t, 2, cfg.Watlow.Loops)
	assert.Equal(t, 10, cfg.Watlow.CondEvent)
	assert.Equal(t, codec.HighWordFirst, cfg.Watlow.WordOrder)
	assert.Equal(t, 500*time.Millisecond, cfg.Watlow.ConstantDelay)
	assert.Equal(t, 6, cfg.Watlow.Alarms)

	ch, err := Build(cfg, nil)
	require.NoError(t, err)
	assert.Len(t, ch.Loops(), 2)
}

func TestWatlowTCPPort(t *testing.T) {
	cfg, err := Parse([]byte("controller: watlow\ntransport:\n  address: 10.0.0.5\n"))
	require.NoError(t, err)
	assert.Equal(t, TCP, cfg.Transport.Type)
	assert.Equal(t, "10.0.0.5:502", cfg.Transport.Address)
	assert.Equal(t, 100, cfg.Session.SettleDelayMs)

	cfg, err = Parse([]byte("controller: watlow\ntransport:\n  address: 10.0.0.5:1502\n"))
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:1502", cfg.Transport.Address)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"controller", "controller: vötsch\ntransport: {address: x}", "controller must be"},
		{"transport type", "controller: espec\ntransport: {type: udp, address: x}", "transport.type"},
		{"address", "controller: espec", "transport.address is required"},
		{"unit id", "controller: watlow\ntransport: {address: x, unit_id: 300}", "unit_id must be 1-247"},
		{"data bits", "controller: watlow\ntransport: {type: serial, address: x, data_bits: 9}", "data_bits"},
		{"parity", "controller: watlow\ntransport: {type: serial, address: x, parity: M}", "parity"},
		{"rs485 over tcp", "controller: watlow\ntransport: {address: x, rs485: {enabled: true}}", "rs485"},
		{"watlow loops", "controller: watlow\ntransport: {address: x}\nwatlow: {loops: 3, cascades: 2}", "1-4 loops"},
		{"loop event", "controller: watlow\ntransport: {address: x}\nwatlow: {loop_events: [9]}", "loop_events"},
		{"espec model", "controller: espec\ntransport: {address: x}\nespec: {model: P400}", "espec.model"},
		{"espec cascades", "controller: espec\ntransport: {address: x}\nespec: {cascades: 2}", "espec.cascades"},
		{"espec loops", "controller: espec\ntransport: {address: x}\nespec: {loops: 2, cascades: 1}", "1-2 loops"},
		{"event number", "controller: espec\ntransport: {address: x}\nevents: {13: fan}", "event 13"},
		{"negative settle", "controller: espec\ntransport: {address: x}\nsession: {settle_delay_ms: -1}", "session"},
		{"yaml", "controller: [", "config:"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, strings.Contains(err.Error(), tt.wantErr), "error %q does not contain %q", err, tt.wantErr)
		})
	}
}

func TestNormalizeNil(t *testing.T) {
	Normalize(nil)
}
