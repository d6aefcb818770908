// Package config loads chamber descriptions from YAML and builds ready to
// use chambers from them.
//
//	controller: espec
//	transport:
//	  type: tcp
//	  address: 192.168.1.20
//	espec:
//	  loops: 2
//	session:
//	  settle_delay_ms: 100
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/espec"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/watlow"
)

// Controller families.
const (
	Watlow = "watlow"
	Espec  = "espec"
)

// Transport types.
const (
	TCP    = "tcp"
	Serial = "serial"
)

type Config struct {
	// Name labels the chamber in logs and lock keys.
	Name       string          `yaml:"name"`
	Controller string          `yaml:"controller"`
	Transport  TransportConfig `yaml:"transport"`
	Session    SessionConfig   `yaml:"session"`

	// Only the section of Controller is used.
	Watlow watlow.Config `yaml:"watlow"`
	Espec  espec.Config  `yaml:"espec"`

	// Events names the events reported by a sample.
	Events map[int]string `yaml:"events"`
}

// ---- TRANSPORT ----

type TransportConfig struct {
	Type string `yaml:"type"`
	// Address is host[:port] for TCP and the device for serial lines.
	Address string `yaml:"address"`
	// UnitID is the Modbus slave id or the ASCII station address.
	UnitID    int `yaml:"unit_id"`
	TimeoutMs int `yaml:"timeout_ms"`

	// Serial lines only.
	BaudRate      int          `yaml:"baud_rate"`
	DataBits      int          `yaml:"data_bits"`
	Parity        string       `yaml:"parity"`
	StopBits      int          `yaml:"stop_bits"`
	IdleTimeoutMs int          `yaml:"idle_timeout_ms"`
	FrameDelayMs  int          `yaml:"frame_delay_ms"`
	RS485         *RS485Config `yaml:"rs485"`

	// FrameRetry repeats a Modbus request once after a corrupt response.
	FrameRetry bool `yaml:"frame_retry"`
}

type RS485Config struct {
	Enabled              bool `yaml:"enabled"`
	DelayRtsBeforeSendMs int  `yaml:"delay_rts_before_send_ms"`
	DelayRtsAfterSendMs  int  `yaml:"delay_rts_after_send_ms"`
	RtsHighDuringSend    bool `yaml:"rts_high_during_send"`
	RtsHighAfterSend     bool `yaml:"rts_high_after_send"`
	RxDuringTx           bool `yaml:"rx_during_tx"`
}

// ---- SESSION ----

type SessionConfig struct {
	// SettleDelayMs is waited after each session closes the transport.
	// TCP transports default to 100.
	SettleDelayMs int `yaml:"settle_delay_ms"`
	// LockKey, when set, makes sessions take a lease on the key first.
	// Chambers built in one process with the same key share the lease.
	LockKey       string `yaml:"lock_key"`
	LockTimeoutMs int    `yaml:"lock_timeout_ms"`
	LeaseMs       int    `yaml:"lease_ms"`
}

// Default returns a configuration with the controller sections at their
// defaults.
func Default() Config {
	return Config{
		Watlow: watlow.DefaultConfig(),
		Espec:  espec.DefaultConfig(),
	}
}

// Parse decodes, normalizes and validates data.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	Normalize(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data)
}
