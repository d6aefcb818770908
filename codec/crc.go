// Copyright 2014 Quoc-Viet Nguyen. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD license. See the LICENSE file for details.

package codec

// CRC computes CRC-16/MODBUS incrementally (reflected polynomial 0xA001, initial value 0xFFFF).
type CRC struct {
	value uint16
}

// Reset restores the initial value.
func (c *CRC) Reset() *CRC {
	c.value = 0xFFFF
	return c
}

// PushByte folds one byte into the checksum.
func (c *CRC) PushByte(b byte) *CRC {
	c.value ^= uint16(b)
	for i := 0; i < 8; i++ {
		if c.value&1 != 0 {
			c.value = c.value>>1 ^ 0xA001
		} else {
			c.value >>= 1
		}
	}
	return c
}

// PushBytes folds a byte slice into the checksum.
func (c *CRC) PushBytes(data []byte) *CRC {
	for _, b := range data {
		c.PushByte(b)
	}
	return c
}

// Value returns the checksum. On the wire the low byte goes first.
func (c *CRC) Value() uint16 {
	return c.value
}

// CRC16 returns the CRC-16/MODBUS checksum of data.
func CRC16(data []byte) uint16 {
	var crc CRC
	return crc.Reset().PushBytes(data).Value()
}

// AppendCRC appends the checksum of data in wire order.
func AppendCRC(data []byte) []byte {
	sum := CRC16(data)
	return append(data, byte(sum), byte(sum>>8))
}
