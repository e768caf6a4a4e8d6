package epd

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"inkpanel/internal/convert"
	"inkpanel/internal/link"
	"inkpanel/internal/model"
)

// wHAT register opcodes.
const (
	whatGateSetting           byte = 0x01
	whatGateDrivingVoltage    byte = 0x03
	whatSourceDrivingVoltage  byte = 0x04
	whatEnterDeepSleep        byte = 0x10
	whatDataEntryMode         byte = 0x11
	whatSoftReset             byte = 0x12
	whatTriggerDisplayUpdate  byte = 0x20
	whatDisplayUpdateSequence byte = 0x22
	whatWriteBWBuffer         byte = 0x24
	whatVComRegister          byte = 0x2C
	whatSetLUT                byte = 0x32
	whatDummyLinePeriod       byte = 0x3A
	whatGateLineWidth         byte = 0x3B
	whatBorderWaveform        byte = 0x3C
	whatSetRAMXStartEnd       byte = 0x44
	whatSetRAMYStartEnd       byte = 0x45
	whatSetRAMXPointer        byte = 0x4E
	whatSetRAMYPointer        byte = 0x4F
	whatAnalogBlockControl    byte = 0x74
	whatDigitalBlockControl   byte = 0x7E
)

// lutBlack is the waveform for black/white refreshes: five 7-byte voltage
// phase rows followed by seven 5-byte timing rows.
var lutBlack = []byte{
	0b01001000, 0b10100000, 0b00010000, 0b00010000, 0b00010011, 0b00000000, 0b00000000,
	0b01001000, 0b10100000, 0b10000000, 0b00000000, 0b00000011, 0b00000000, 0b00000000,
	0b00000000, 0b00000000, 0b00000000, 0b00000000, 0b00000000, 0b00000000, 0b00000000,
	0b01001000, 0b10100101, 0b00000000, 0b10111011, 0b00000000, 0b00000000, 0b00000000,
	0b00000000, 0b00000000, 0b00000000, 0b00000000, 0b00000000, 0b00000000, 0b00000000,
	0x10, 0x04, 0x04, 0x04, 0x04,
	0x10, 0x04, 0x04, 0x04, 0x04,
	0x04, 0x08, 0x08, 0x10, 0x10,
	0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00,
}

// WhatOpts holds the timing of the wHAT protocol.
type WhatOpts struct {
	// ResetHold is how long reset is held low, then high.
	ResetHold time.Duration
	// RefreshSettle is the pause between triggering the refresh and
	// watching the busy line.
	RefreshSettle  time.Duration
	RefreshTimeout time.Duration
	// DefaultTimeout applies to Wait(0), including the wait after reset.
	DefaultTimeout time.Duration
}

var DefaultWhatOpts = WhatOpts{
	ResetHold:      100 * time.Millisecond,
	RefreshSettle:  50 * time.Millisecond,
	RefreshTimeout: 40 * time.Second,
	DefaultTimeout: 5 * time.Second,
}

// What drives the 2-colour wHAT controller.
type What struct {
	l    *link.Link
	opts WhatOpts
	busy busyWait
}

// NewWhat takes ownership of l. opts may be nil for DefaultWhatOpts.
func NewWhat(l *link.Link, opts *WhatOpts) (*What, error) {
	desc := l.Descriptor()
	if f := desc.Family(); f != model.FamilyWhat {
		return nil, fmt.Errorf("epd: wHAT driver cannot drive a %s panel", f)
	}
	if desc.Width <= 0 || desc.Width%8 != 0 || desc.Width/8 > 256 {
		return nil, fmt.Errorf("epd: wHAT width %d is not a multiple of 8 up to 2048", desc.Width)
	}
	if desc.Height <= 0 || desc.Height > 0xFFFF {
		return nil, fmt.Errorf("epd: wHAT height %d out of range", desc.Height)
	}
	if opts == nil {
		opts = &DefaultWhatOpts
	}
	l.SetSelectSetup(0)
	return &What{
		l:    l,
		opts: *opts,
		busy: busyWait{
			ready: gpio.FallingEdge,
			def:   opts.DefaultTimeout,
		},
	}, nil
}

// Reset pulses reset, issues a soft reset and waits for the controller.
func (d *What) Reset() error {
	enter(model.FamilyWhat, Resetting)
	if err := d.l.PulseReset(d.opts.ResetHold, d.opts.ResetHold); err != nil {
		return err
	}
	if err := d.Send(link.Command(whatSoftReset)); err != nil {
		return err
	}
	if err := d.Wait(0); err != nil {
		return fmt.Errorf("epd: what reset: %w", err)
	}
	return nil
}

// configure returns the register writes that precede the frame. Gate count
// and RAM window come from the panel descriptor.
func (d *What) configure() []link.Transaction {
	desc := d.l.Descriptor()
	height := binary.LittleEndian.AppendUint16(nil, uint16(desc.Height))

	return []link.Transaction{
		link.WithData(whatAnalogBlockControl, 0x54),
		link.WithData(whatDigitalBlockControl, 0x3B),
		link.WithData(whatGateSetting, append(height, 0x00)...),
		link.WithData(whatGateDrivingVoltage, 0x17),
		link.WithData(whatSourceDrivingVoltage, 0x41, 0xAC, 0x32),
		link.WithData(whatDummyLinePeriod, 0x07),
		link.WithData(whatGateLineWidth, 0x04),
		link.WithData(whatDataEntryMode, 0x03),
		link.WithData(whatVComRegister, 0x3C),
		// GS transition, VSH2, LUT1: white border.
		link.WithData(whatBorderWaveform, 0b00110001),
		link.WithData(whatSetLUT, lutBlack...),
		link.WithData(whatSetRAMXStartEnd, 0x00, byte(desc.Width/8-1)),
		link.WithData(whatSetRAMYStartEnd, append([]byte{0x00, 0x00}, height...)...),
		link.WithData(whatSetRAMXPointer, 0x00),
		link.WithData(whatSetRAMYPointer, 0x00, 0x00),
	}
}

// Update resets the controller first: the previous Update left it in deep
// sleep, which only a hardware reset leaves.
func (d *What) Update(buf []byte) error {
	if err := d.Reset(); err != nil {
		return err
	}

	enter(model.FamilyWhat, Configuring)
	if err := sendAll(d.l, d.configure()); err != nil {
		return err
	}

	enter(model.FamilyWhat, Streaming)
	if err := d.Send(link.WithData(whatWriteBWBuffer, buf...)); err != nil {
		return err
	}

	enter(model.FamilyWhat, Refreshing)
	if err := d.Send(link.WithData(whatDisplayUpdateSequence, 0xC7)); err != nil {
		return err
	}
	if err := d.Send(link.Command(whatTriggerDisplayUpdate)); err != nil {
		return err
	}
	time.Sleep(d.opts.RefreshSettle)
	if err := d.Wait(d.opts.RefreshTimeout); err != nil {
		return fmt.Errorf("epd: what refresh: %w", err)
	}

	enter(model.FamilyWhat, Sleeping)
	return d.Send(link.WithData(whatEnterDeepSleep, 0x01))
}

func (d *What) Wait(timeout time.Duration) error {
	return d.busy.wait(d.l, timeout)
}

func (d *What) Send(tx link.Transaction) error {
	return d.l.Send(tx)
}

// Convert packs one bit per pixel, 1 for anything but black.
func (d *What) Convert(pixels [][]model.Color) ([]byte, error) {
	return convert.PackBits(pixels, func(c model.Color) bool { return c != model.Black }), nil
}

func (d *What) Close() error {
	return d.l.Close()
}
