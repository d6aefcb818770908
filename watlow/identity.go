package watlow

import (
	"context"
	"errors"
	"fmt"

	chamber "github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000"
	"github.com/EspecNorthAmerica/ChamberConnectLibrary-sub000/modbus"
)

const (
	partNumber       = 16
	partNumberLength = 15
	profileUnits     = 16536

	messageShow   = 37546
	messageText   = 37548
	messageStride = 160
	messageLength = 20

	maxLimits = 6
)

// Part number digit 7 selects the profile engine and the alarm count.
var partProfiles = map[byte]struct {
	profiles bool
	alarms   int
}{
	'A': {false, 6}, 'B': {false, 8}, 'C': {false, 14},
	'D': {true, 6}, 'E': {true, 8}, 'F': {true, 14},
}

// Part number digit 12 selects the loop and cascade counts.
var partLoops = map[byte]struct{ loops, cascades int }{
	'1': {1, 0}, '2': {2, 0}, '3': {3, 0}, '4': {4, 0}, '5': {0, 0},
	'6': {0, 1}, '7': {1, 1}, '8': {2, 1}, '9': {3, 1},
	'A': {0, 2}, 'B': {1, 2}, 'C': {2, 2},
}

// ProcessController reads the part number. With update the loop, alarm
// and profile configuration is taken from it and the installed limit
// controllers are probed.
func (c *F4T) ProcessController(ctx context.Context, update bool) (string, error) {
	part, err := c.readString(ctx, partNumber, partNumberLength)
	if err != nil {
		return "", err
	}
	name := "Watlow F4T"
	if len(part) != partNumberLength {
		return name + " " + part, nil
	}
	name = fmt.Sprintf("Watlow F4T %s", part)
	if !update {
		return name, nil
	}
	var limits []int
	for i := 0; i < maxLimits; i++ {
		if _, err := c.word(ctx, limitState+uint16(i)*limitStride); err != nil {
			var merr *modbus.Error
			if errors.As(err, &merr) {
				continue
			}
			return "", err
		}
		limits = append(limits, i+1)
	}

	c.mu.Lock()
	if p, ok := partProfiles[part[6]]; ok {
		c.cfg.Profiles = p.profiles
		c.cfg.Alarms = p.alarms
	}
	if l, ok := partLoops[part[11]]; ok {
		c.cfg.Loops = l.loops
		c.cfg.Cascades = l.cascades
	}
	c.cfg.Limits = limits
	c.mu.Unlock()
	return fmt.Sprintf("%s w/ %d limits", name, len(limits)), nil
}

// Units reads the units of a loop from the profile engine.
func (c *F4T) Units(ctx context.Context, loop chamber.LoopRef) (string, error) {
	if err := c.checkLoop(loop); err != nil {
		return "", err
	}
	if !c.config().Profiles {
		return "", chamber.ErrNotSupported
	}
	name, err := c.readName(ctx, profileUnits+uint16(c.loopIndex(loop)-1)*2)
	if err != nil {
		return "", err
	}
	switch name {
	case "absoluteTemperature", "relativeTemperature", "notsourced":
		scale, err := c.readName(ctx, c.unitsRegister)
		if err != nil {
			return "", err
		}
		return "°" + scale, nil
	}
	return name, nil
}

// NetworkSettings cannot be read back from the F4T.
func (c *F4T) NetworkSettings(context.Context) (chamber.NetworkSettings, error) {
	return chamber.NetworkSettings{}, chamber.ErrNotSupported
}

// SetNetworkSettings shows the message, host and address on the front
// panel. nil hides them.
func (c *F4T) SetNetworkSettings(ctx context.Context, value *chamber.NetworkSettings) error {
	if value == nil {
		return c.writeWord(ctx, messageShow, codeNo)
	}
	lines := []string{value.Message, value.Host, value.Address}
	defaults := []string{"Espec Server Hosted:", "NO_HOST_SPECIFIED!", "Network Not Up"}
	for i, line := range lines {
		if line == "" {
			line = defaults[i]
		}
		if err := c.writeString(ctx, messageText+uint16(i)*messageStride, line, messageLength); err != nil {
			return err
		}
	}
	return c.writeWord(ctx, messageShow, codeYes)
}
