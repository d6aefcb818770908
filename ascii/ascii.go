// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

/*
Package ascii implements the delimited ASCII command/response protocol spoken
by Espec P300 and SCP-220 controllers, over a serial line or a TCP forwarder.

A request is "address,COMMAND" followed by the delimiter. The answer is every
byte up to the delimiter. An answer starting with "NA:" is a rejection and is
returned as *RejectedError.
*/
package ascii

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strconv"
)

const (
	// DefaultDelimiter terminates requests and responses.
	DefaultDelimiter = "\r\n"

	rejectedPrefix = "NA:"
	maxResponse    = 4096
)

// ErrNoResponse is returned when the controller stopped sending before the
// delimiter arrived.
var ErrNoResponse = errors.New("ascii: no response")

var errorDescriptions = map[string]string{
	"CMD ERR":           "Unrecognized command",
	"ADDR ERR":          "Bad address",
	"CONT NOT READY-1":  "Chamber does not support PTCON/Humidity",
	"CONT NOT READY-2":  "Chamber is not running a program",
	"CONT NOT READY-3":  "Command not supported by this controller",
	"CONT NOT READY-4":  "Keys may not be locked while controller is off",
	"CONT NOT READY-5":  "Specified time signal is not enabled",
	"DATA NOT READY":    "Specified program does not exist",
	"PARA ERR":          "Parameter missing or unrecognizable",
	"DATA OUT OF RANGE": "Data not within valid range",
	"PROTECT ON":        "Controller data protection is enabled via HMI",
	"PRGM WRITE ERR-1":  "Program slot is read only",
	"PRGM WRITE ERR-2":  "Not in program edit/overwrite mode",
	"PRGM WRITE ERR-3":  "Edit request not allowed, not in edit mode",
	"PRGM WRITE ERR-4":  "A program is already being edited",
	"PRGM WRITE ERR-5":  "A program is already being edited",
	"PRGM WRITE ERR-6":  "Not in overwrite mode",
	"PRGM WRITE ERR-7":  "Cannot edit a program other than the one in edit mode",
	"PRGM WRITE ERR-8":  "Steps must be entered in order",
	"PRGM WRITE ERR-9":  "Invalid counter configuration",
	"PRGM WRITE ERR-10": "Cannot edit a running program",
	"PRGM WRITE ERR-11": "Missing data for counter or end mode",
	"PRGM WRITE ERR-12": "Program is being edited on HMI",
	"PRGM WRITE ERR-13": "Invalid step data",
	"PRGM WRITE ERR-14": "Cannot set exposure time while ramp control is on",
	"PRGM WRITE ERR-15": "Humidity must be enabled for humidity ramp mode",
	"INVALID REQ":       "Unsupported function",
	"CHB NOT READY":     "Could not act on given command",
}

// RejectedError is a command the controller answered with "NA:".
type RejectedError struct {
	Command string
	Message string
}

// Description explains Message, "missing description" for messages the
// table does not know.
func (e *RejectedError) Description() string {
	if d, ok := errorDescriptions[e.Message]; ok {
		return d
	}
	return "missing description"
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("ascii: command %q rejected: %q (%s)", e.Command, e.Message, e.Description())
}

// Client exchanges one command for one response.
type Client interface {
	Interact(ctx context.Context, command string) (string, error)
	Connect() error
	Close() error
}

// framer builds requests and checks responses.
type framer struct {
	// Station address, 0 sends the command without address prefix.
	Address int
	// Line delimiter, DefaultDelimiter when empty.
	Delimiter string
}

func (f *framer) delimiter() []byte {
	if f.Delimiter == "" {
		return []byte(DefaultDelimiter)
	}
	return []byte(f.Delimiter)
}

// Encode frames command for the wire.
func (f *framer) Encode(command string) []byte {
	var buf bytes.Buffer
	if f.Address > 0 {
		buf.WriteString(strconv.Itoa(f.Address))
		buf.WriteByte(',')
	}
	buf.WriteString(command)
	buf.Write(f.delimiter())
	return buf.Bytes()
}

// Decode strips the delimiter and turns a rejection into *RejectedError.
func (f *framer) Decode(command string, response []byte) (string, error) {
	response = bytes.TrimSuffix(response, f.delimiter())
	if bytes.HasPrefix(response, []byte(rejectedPrefix)) {
		return "", &RejectedError{Command: command, Message: string(response[len(rejectedPrefix):])}
	}
	return string(response), nil
}
