package epd

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"inkpanel/internal/convert"
	"inkpanel/internal/link"
	"inkpanel/internal/model"
)

// Geometry programmed into the resolution register.
const (
	e673Width  = 800
	e673Height = 480
)

// E673 register opcodes.
const (
	e673PSR   byte = 0x00 // panel setting
	e673PWR   byte = 0x01 // power setting
	e673POF   byte = 0x02 // power off
	e673POFS  byte = 0x03 // power off sequence
	e673PON   byte = 0x04 // power on
	e673BTST1 byte = 0x05 // booster soft start 1
	e673BTST2 byte = 0x06 // booster soft start 2
	e673BTST3 byte = 0x08 // booster soft start 3
	e673DTM1  byte = 0x10 // data start transmission
	e673DRF   byte = 0x12 // display refresh
	e673PLL   byte = 0x30 // PLL control
	e673CDI   byte = 0x50 // VCOM and data interval
	e673TCON  byte = 0x60 // gate/source non-overlap
	e673TRES  byte = 0x61 // resolution
	e673VDCS  byte = 0x82 // VCOM DC
	e673PWS   byte = 0xE3 // power saving
	e673CMDH  byte = 0xAA // command header unlock
)

// e673Config is written after every reset, in this order.
var e673Config = []link.Transaction{
	link.WithData(e673CMDH, 0x49, 0x55, 0x20, 0x08, 0x09, 0x18),
	link.WithData(e673PWR, 0x3F),
	link.WithData(e673PSR, 0x5F, 0x69),
	link.WithData(e673BTST1, 0x40, 0x1F, 0x1F, 0x2C),
	link.WithData(e673BTST3, 0x6F, 0x1F, 0x1F, 0x22),
	link.WithData(e673BTST2, 0x6F, 0x1F, 0x17, 0x17),
	link.WithData(e673POFS, 0x00, 0x54, 0x00, 0x44),
	link.WithData(e673TCON, 0x02, 0x00),
	link.WithData(e673PLL, 0x08),
	link.WithData(e673CDI, 0x3F),
	link.WithData(e673TRES, 0x03, 0x20, 0x01, 0xE0),
	link.WithData(e673PWS, 0x2F),
	link.WithData(e673VDCS, 0x01),
}

// E673Opts holds the timing of the E673 protocol.
type E673Opts struct {
	// SelectSetup is the delay between chip select and opcode.
	SelectSetup time.Duration
	// ResetHold is how long reset is held low, then high.
	ResetHold time.Duration

	ResetTimeout    time.Duration
	PowerOnTimeout  time.Duration
	RefreshTimeout  time.Duration
	PowerOffTimeout time.Duration
	// DefaultTimeout applies to Wait(0).
	DefaultTimeout time.Duration
}

// DefaultE673Opts are the timings the panel is known to work with. A full
// colour refresh takes around 30 seconds.
var DefaultE673Opts = E673Opts{
	SelectSetup:     300 * time.Millisecond,
	ResetHold:       30 * time.Millisecond,
	ResetTimeout:    300 * time.Millisecond,
	PowerOnTimeout:  300 * time.Millisecond,
	RefreshTimeout:  32 * time.Second,
	PowerOffTimeout: 300 * time.Millisecond,
	DefaultTimeout:  100 * time.Millisecond,
}

// E673 drives the 6-colour Spectra E673 controller.
type E673 struct {
	l    *link.Link
	opts E673Opts
	busy busyWait
}

// NewE673 takes ownership of l. opts may be nil for DefaultE673Opts.
func NewE673(l *link.Link, opts *E673Opts) (*E673, error) {
	desc := l.Descriptor()
	if f := desc.Family(); f != model.FamilyE673 {
		return nil, fmt.Errorf("epd: E673 driver cannot drive a %s panel", f)
	}
	// The resolution register is fixed at e673Width x e673Height.
	if desc.Width != e673Width || desc.Height != e673Height {
		return nil, fmt.Errorf("epd: E673 panel must be %dx%d, got %dx%d", e673Width, e673Height, desc.Width, desc.Height)
	}
	if opts == nil {
		opts = &DefaultE673Opts
	}
	l.SetSelectSetup(opts.SelectSetup)
	return &E673{
		l:    l,
		opts: *opts,
		busy: busyWait{
			ready:         gpio.RisingEdge,
			levelFallback: true,
			fallbackLevel: gpio.High,
			def:           opts.DefaultTimeout,
		},
	}, nil
}

// Reset pulses reset, waits for the controller and rewrites the
// configuration registers.
func (d *E673) Reset() error {
	enter(model.FamilyE673, Resetting)
	if err := d.l.PulseReset(d.opts.ResetHold, d.opts.ResetHold); err != nil {
		return err
	}
	if err := d.Wait(d.opts.ResetTimeout); err != nil {
		return fmt.Errorf("epd: e673 reset: %w", err)
	}

	enter(model.FamilyE673, Configuring)
	return sendAll(d.l, e673Config)
}

func (d *E673) Update(buf []byte) error {
	if err := d.Reset(); err != nil {
		return err
	}

	enter(model.FamilyE673, Streaming)
	if err := d.Send(link.WithData(e673DTM1, buf...)); err != nil {
		return err
	}

	enter(model.FamilyE673, Refreshing)
	if err := d.Send(link.Command(e673PON)); err != nil {
		return err
	}
	if err := d.Wait(d.opts.PowerOnTimeout); err != nil {
		return fmt.Errorf("epd: e673 power on: %w", err)
	}
	if err := d.Send(link.WithData(e673BTST2, 0x6F, 0x1F, 0x17, 0x49)); err != nil {
		return err
	}
	if err := d.Send(link.WithData(e673DRF, 0x00)); err != nil {
		return err
	}
	if err := d.Wait(d.opts.RefreshTimeout); err != nil {
		return fmt.Errorf("epd: e673 refresh: %w", err)
	}

	enter(model.FamilyE673, Sleeping)
	if err := d.Send(link.WithData(e673POF, 0x00)); err != nil {
		return err
	}
	if err := d.Wait(d.opts.PowerOffTimeout); err != nil {
		return fmt.Errorf("epd: e673 power off: %w", err)
	}
	return nil
}

func (d *E673) Wait(timeout time.Duration) error {
	return d.busy.wait(d.l, timeout)
}

func (d *E673) Send(tx link.Transaction) error {
	return d.l.Send(tx)
}

// Convert packs two pixels per byte using the controller's colour codes.
// Rows must have even length.
func (d *E673) Convert(pixels [][]model.Color) ([]byte, error) {
	return convert.PackNibbles(pixels, e673Code)
}

func (d *E673) Close() error {
	return d.l.Close()
}

// e673Code maps a colour to the controller's 4-bit code. Code 4 is unused.
func e673Code(c model.Color) byte {
	switch c {
	case model.Black:
		return 0
	case model.White:
		return 1
	case model.Yellow:
		return 2
	case model.Red:
		return 3
	case model.Blue:
		return 5
	case model.Green:
		return 6
	default:
		return 1
	}
}
