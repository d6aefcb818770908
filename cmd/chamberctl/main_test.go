package main

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/codec"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/internal/modbustest"
)

// p300 is a loopback Espec controller answering from a table.
type p300 struct {
	mu        sync.Mutex
	responses map[string]string
	received  []string
}

func newP300(t *testing.T, responses map[string]string) (*p300, string) {
	t.Helper()
	p := &p300{responses: responses}
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go p.serve(conn)
		}
	}()
	return p, l.Addr().String()
}

func (p *p300) serve(conn net.Conn) {
	defer conn.Close()
	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		command := strings.TrimRight(line, "\r\n")
		p.mu.Lock()
		p.received = append(p.received, command)
		response, ok := p.responses[command]
		p.mu.Unlock()
		if !ok {
			response = "OK"
		}
		fmt.Fprintf(conn, "%s\r\n", response)
	}
}

func (p *p300) commands() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.received...)
}

func writeConfig(t *testing.T, text string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chamber.yaml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var p300Responses = map[string]string{
	"TEMP?":               "23.5,25.0,100.0,-40.0",
	"CONSTANT SET?,TEMP":  "25.0,ON",
	"HUMI?":               "45.0,50.0,98.0,20.0",
	"CONSTANT SET?,HUMI":  "50.0,ON",
	"MON?":                "23.5,45.0,CONSTANT,0",
	"MODE?,DETAIL":        "CONSTANT",
	"MODE?":               "CONSTANT",
	"ALARM?":              "1,6",
	"DATE?":               "24.03/15",
	"TIME?":               "13:04:05",
	"%?":                  "2,40.0,30.0",
	"RELAY?":              "ON,2",
	"CONSTANT SET?,RELAY": "ON",
	"ROM?":                "P300 VER 1.10",
	"TEMP PTC?":           "NA:CONT NOT READY-1",
}

func especConfig(t *testing.T, addr string) string {
	return writeConfig(t, fmt.Sprintf("controller: espec\ntransport:\n  address: %s\n  timeout_ms: 2000\nevents:\n  2: door\n", addr))
}

func TestStatus(t *testing.T) {
	_, addr := newP300(t, p300Responses)
	out, err := execute(t, "--config", especConfig(t, addr), "status")
	require.NoError(t, err)
	assert.Equal(t, "status: Constant\n", out)
}

func TestLoopGet(t *testing.T) {
	_, addr := newP300(t, p300Responses)
	out, err := execute(t, "-c", especConfig(t, addr), "loop", "get", "temp", "setpoint", "range")
	require.NoError(t, err)

	var got struct {
		Loop     string           `yaml:"loop"`
		Setpoint chamber.Setpoint `yaml:"setpoint"`
		Range    chamber.Range    `yaml:"range"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "loop1", got.Loop)
	assert.Equal(t, chamber.Setpoint{Constant: 25, Current: 25}, got.Setpoint)
	assert.Equal(t, chamber.Range{Min: -40, Max: 100}, got.Range)
}

func TestSample(t *testing.T) {
	_, addr := newP300(t, p300Responses)
	out, err := execute(t, "-c", especConfig(t, addr), "sample", "--alarms")
	require.NoError(t, err)

	var got struct {
		Status string `yaml:"status"`
		Loops  []struct {
			Name string `yaml:"name"`
		} `yaml:"loops"`
		Alarms chamber.AlarmStatus `yaml:"alarms"`
		Events []struct {
			Number  int    `yaml:"number"`
			Name    string `yaml:"name"`
			Current bool   `yaml:"current"`
		} `yaml:"events"`
	}
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "Constant", got.Status)
	assert.Len(t, got.Loops, 2)
	assert.Equal(t, []int{6}, got.Alarms.Active)
	require.Len(t, got.Events, 1)
	assert.Equal(t, "door", got.Events[0].Name)
	assert.True(t, got.Events[0].Current)
}

func TestWrites(t *testing.T) {
	tests := []struct {
		args []string
		want []string
	}{
		{[]string{"loop", "set-setpoint", "temp", "30"}, []string{"TEMP, S30.0"}},
		{[]string{"loop", "set-range", "humidity", "10", "95"}, []string{"HUMI, L10.0", "HUMI, H95.0"}},
		{[]string{"operation", "set", "program", "3", "2"}, []string{"PRGM,RUN,RAM:3,STEP2"}},
		{[]string{"operation", "set", "standby"}, []string{"MODE,STANDBY"}},
		{[]string{"program", "delete", "5"}, []string{"PRGM ERASE,RAM:5"}},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			p, addr := newP300(t, p300Responses)
			_, err := execute(t, append([]string{"-c", especConfig(t, addr)}, tt.args...)...)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, p.commands()); diff != "" {
				t.Errorf("commands mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestProbe(t *testing.T) {
	_, addr := newP300(t, p300Responses)
	out, err := execute(t, "-c", especConfig(t, addr), "probe")
	require.NoError(t, err)
	assert.Equal(t, "controller: P300 W/Humidity\nloops:\n  - loop1\n  - loop2\n", out)
}

func TestRawEspec(t *testing.T) {
	_, addr := newP300(t, map[string]string{"TEMP?": "23.5,25.0,100.0,-40.0", "BOGUS": "NA:CMD ERR"})
	out, err := execute(t, "-c", especConfig(t, addr), "raw", "TEMP?")
	require.NoError(t, err)
	assert.Equal(t, "23.5,25.0,100.0,-40.0\n", out)

	out, err = execute(t, "-c", especConfig(t, addr), "raw", "BOGUS")
	require.NoError(t, err)
	assert.Equal(t, "NA:CMD ERR\n", out)
}

func TestErrors(t *testing.T) {
	_, addr := newP300(t, p300Responses)
	cfg := especConfig(t, addr)
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing config", []string{"-c", filepath.Join(t.TempDir(), "none.yaml"), "status"}, "config:"},
		{"unknown loop", []string{"-c", cfg, "loop", "get", "pressure"}, "no loop named"},
		{"bad setpoint", []string{"-c", cfg, "loop", "set-setpoint", "temp", "warm"}, "setpoint"},
		{"program without number", []string{"-c", cfg, "operation", "set", "program"}, "needs a program number"},
		{"program out of range", []string{"-c", cfg, "program", "delete", "41"}, "out of range"},
		{"registers on espec", []string{"-c", cfg, "registers", "--register", "2782"}, "not supported"},
		{"registers without register", []string{"-c", cfg, "registers"}, "required flag"},
		{"loop get without loop", []string{"-c", cfg, "loop", "get"}, "requires at least 1 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRegisters(t *testing.T) {
	server := modbustest.NewServer(t)
	w0, w1 := codec.FloatToWords(23.5, codec.LowWordFirst)
	server.Set(2782, w0, w1)
	server.Set(100, 'F', '4', 'T', 0)
	cfg := writeConfig(t, fmt.Sprintf("controller: watlow\ntransport:\n  address: %s\n", server.Addr()))

	out, err := execute(t, "-c", cfg, "registers", "--register", "2782", "--kind", "float")
	require.NoError(t, err)
	assert.Equal(t, "- register: 2782\n  kind: float\n  number: 23.5\n", out)

	out, err = execute(t, "-c", cfg, "registers", "--register", "100", "--kind", "string", "--length", "4")
	require.NoError(t, err)
	assert.Equal(t, "- register: 100\n  kind: string\n  text: F4T\n", out)

	out, err = execute(t, "-c", cfg, "raw", "03 0a de 00 02")
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("03 04 %02x %02x %02x %02x\n", w0>>8, w0&0xff, w1>>8, w1&0xff), out)
}

func TestRegisterFields(t *testing.T) {
	tests := []struct {
		name    string
		flags   registerFlags
		want    []uint16
		wantErr bool
	}{
		{"unsigned", registerFlags{register: 10, count: 3, kind: "unsigned", order: "low"}, []uint16{10, 11, 12}, false},
		{"float", registerFlags{register: 10, count: 2, kind: "float", order: "high"}, []uint16{10, 12}, false},
		{"string", registerFlags{register: 0, count: 2, kind: "string", length: 20, order: "low"}, []uint16{0, 20}, false},
		{"kind", registerFlags{register: 10, count: 1, kind: "double", order: "low"}, nil, true},
		{"order", registerFlags{register: 10, count: 1, kind: "long", order: "middle"}, nil, true},
		{"register", registerFlags{register: -1, count: 1, kind: "unsigned", order: "low"}, nil, true},
		{"overflow", registerFlags{register: 0xffff, count: 1, kind: "float", order: "low"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fields, err := tt.flags.fields()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			var got []uint16
			for _, f := range fields {
				got = append(got, f.Register)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePDU(t *testing.T) {
	b, err := parsePDU("03 0a de\t00 02")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03, 0x0a, 0xde, 0x00, 0x02}, b)
	_, err = parsePDU("  ")
	assert.Error(t, err)
	_, err = parsePDU("zz")
	assert.Error(t, err)
}
