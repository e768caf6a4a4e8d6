// Package eeprom provides the panel descriptor: which controller is attached
// and how large it is.
//
// Inky boards carry a small identification EEPROM on the Raspberry Pi's I2C
// bus. It holds 29 bytes at memory address 0x0000:
//
//	offset size
//	0      2    width, little endian
//	2      2    height, little endian
//	4      1    colour
//	5      1    PCB variant
//	6      1    display variant
//	7      22   write time, Pascal string (length byte + up to 21 chars)
package eeprom

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"inkpanel/internal/model"
)

const (
	// DefaultAddr is the 7-bit I2C address of the identification EEPROM.
	DefaultAddr uint16 = 0x50
	// Size is the number of bytes the descriptor occupies.
	Size = 29
)

// ErrShort is returned by Decode for fewer than Size bytes.
var ErrShort = errors.New("eeprom: short descriptor")

// Provider abstracts how the panel descriptor is obtained. The binary uses
// the I2C provider on a Pi and a static one for development or boards
// without an EEPROM.
type Provider interface {
	Read(ctx context.Context) (model.Descriptor, error)
}

type staticProvider struct {
	desc model.Descriptor
}

// NewStatic returns a Provider that always yields desc.
func NewStatic(desc model.Descriptor) Provider {
	return staticProvider{desc: desc}
}

func (p staticProvider) Read(_ context.Context) (model.Descriptor, error) {
	return p.desc, nil
}

type i2cProvider struct {
	busName string
	addr    uint16
}

// NewI2C returns a Provider reading the EEPROM at addr on the named bus.
// An empty busName selects periph's default bus (/dev/i2c-1 on a Pi).
// Nothing is opened until Read.
func NewI2C(busName string, addr uint16) Provider {
	if addr == 0 {
		addr = DefaultAddr
	}
	return &i2cProvider{busName: busName, addr: addr}
}

func (p *i2cProvider) Read(ctx context.Context) (model.Descriptor, error) {
	if runtime.GOOS != "linux" {
		return model.Descriptor{}, errors.New("eeprom: i2c unavailable on this platform")
	}
	if err := ctx.Err(); err != nil {
		return model.Descriptor{}, err
	}
	if _, err := host.Init(); err != nil {
		return model.Descriptor{}, fmt.Errorf("eeprom: host.Init() = %w", err)
	}

	bus, err := i2creg.Open(p.busName)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("eeprom: i2creg.Open(%q) = %w", p.busName, err)
	}
	defer bus.Close()

	return readFrom(bus, p.addr)
}

// readFrom sets the EEPROM's address pointer to 0x0000 and reads the
// descriptor in one combined transaction.
func readFrom(bus i2c.Bus, addr uint16) (model.Descriptor, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}
	buf := make([]byte, Size)
	if err := dev.Tx([]byte{0x00, 0x00}, buf); err != nil {
		return model.Descriptor{}, fmt.Errorf("eeprom: read 0x%02X: %w", addr, err)
	}
	return Decode(buf)
}

// Decode parses the EEPROM layout. Bytes past Size are ignored.
func Decode(b []byte) (model.Descriptor, error) {
	if len(b) < Size {
		return model.Descriptor{}, fmt.Errorf("%w: %d bytes, want %d", ErrShort, len(b), Size)
	}

	d := model.Descriptor{
		Width:      int(binary.LittleEndian.Uint16(b[0:2])),
		Height:     int(binary.LittleEndian.Uint16(b[2:4])),
		Color:      b[4],
		PCBVariant: b[5],
		Variant:    model.Variant(b[6]),
	}
	n := min(int(b[7]), Size-8)
	d.WrittenAt = string(b[8 : 8+n])
	return d, nil
}
