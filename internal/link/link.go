// Package link owns the wiring between the host and one e-paper panel: the
// SPI connection, the reset, data/command and chip-select outputs and the
// busy input. It frames register transactions on that wiring and exposes the
// busy line primitives the controller drivers build their wait policies on.
//
// Standard pin locations (Raspberry Pi header, BCM numbering):
//
//	Busy  - GPIO17
//	Reset - GPIO27
//	DC    - GPIO22
//	CS    - GPIO8 (SPI0 CE0)
//	MOSI  - GPIO10, SCLK - GPIO11 (owned by /dev/spidev0.0)
package link

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"inkpanel/internal/model"
)

var (
	// ErrResource is wrapped by every failure to acquire the bus or a line.
	ErrResource = errors.New("link: resource unavailable")
	// ErrTransfer is wrapped by every failed bus write.
	ErrTransfer = errors.New("link: bus transfer failed")
)

// DefaultMaxTransfer is the largest single SPI write issued by Send. It
// matches the default spidev buffer size.
const DefaultMaxTransfer = 4096

// Pins names the four control lines as understood by gpioreg.ByName.
type Pins struct {
	Reset string
	DC    string
	CS    string
	Busy  string
}

// Config describes how to reach the panel.
type Config struct {
	// Port is the SPI port name passed to spireg.Open, e.g. "SPI0.0".
	Port  string
	Speed physic.Frequency
	Mode  spi.Mode
	Pins  Pins
	// MaxTransfer bounds a single write; 0 means DefaultMaxTransfer.
	MaxTransfer int
}

// DefaultConfig is the wiring of the Inky HATs.
var DefaultConfig = Config{
	Port:  "SPI0.0",
	Speed: 488 * physic.KiloHertz,
	Mode:  spi.Mode0,
	Pins: Pins{
		Reset: "GPIO27",
		DC:    "GPIO22",
		CS:    "GPIO8",
		Busy:  "GPIO17",
	},
	MaxTransfer: DefaultMaxTransfer,
}

// Resources are already-opened handles for New. Bus names the connection in
// the claim table; it may be empty when Conn is not shared with anything.
type Resources struct {
	Bus         string
	Conn        conn.Conn
	Reset       gpio.PinOut
	DC          gpio.PinOut
	CS          gpio.PinOut
	Busy        gpio.PinIn
	MaxTransfer int
}

// Link is the exclusive owner of one panel's bus and lines. It is not safe
// for concurrent use; callers serialise access.
type Link struct {
	c    conn.Conn
	port spi.PortCloser

	reset gpio.PinOut
	dc    gpio.PinOut
	cs    gpio.PinOut
	busy  gpio.PinIn

	desc        model.Descriptor
	maxTx       int
	selectSetup time.Duration

	claims []string
	closed bool
}

// Open initialises the periph host drivers, claims the configured port and
// lines, and connects to the SPI port. Pins and port are resolved through
// their registries first and claimed under their real names, so an alias
// cannot take a line or port another Link already owns.
func Open(cfg Config, desc model.Descriptor) (*Link, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("%w: host.Init() = %v", ErrResource, err)
	}

	var pins [4]gpio.PinIO
	for i, name := range []string{cfg.Pins.Reset, cfg.Pins.DC, cfg.Pins.CS, cfg.Pins.Busy} {
		p := gpioreg.ByName(name)
		if p == nil {
			return nil, fmt.Errorf("%w: invalid pin %q", ErrResource, name)
		}
		if r, ok := p.(gpio.RealPin); ok {
			p = r.Real()
		}
		pins[i] = p
	}
	port, err := portName(cfg.Port)
	if err != nil {
		return nil, err
	}

	keys := []string{"spi:" + port}
	for _, p := range pins {
		keys = append(keys, pinKey(p))
	}
	if err := claim(keys); err != nil {
		return nil, err
	}
	l, err := open(cfg, port, pins, desc)
	if err != nil {
		release(keys)
		return nil, err
	}
	l.claims = keys
	return l, nil
}

// portName maps a port name, alias or bus number to the name the port was
// registered under. The empty string selects the port spireg.Open would
// pick by default.
func portName(name string) (string, error) {
	refs := spireg.All()
	if len(refs) == 0 {
		return "", fmt.Errorf("%w: no SPI port registered", ErrResource)
	}
	if name == "" {
		def := refs[0]
		for _, r := range refs {
			if r.Number >= 0 && (def.Number < 0 || r.Number < def.Number) {
				def = r
			}
		}
		return def.Name, nil
	}
	for _, r := range refs {
		if r.Name == name || slices.Contains(r.Aliases, name) {
			return r.Name, nil
		}
	}
	if n, err := strconv.Atoi(name); err == nil {
		for _, r := range refs {
			if r.Number == n {
				return r.Name, nil
			}
		}
	}
	return "", fmt.Errorf("%w: unknown SPI port %q", ErrResource, name)
}

// pinKey names a line in the claim table by its real pin.
func pinKey(p pin.Pin) string {
	if r, ok := p.(gpio.RealPin); ok {
		return "gpio:" + r.Real().Name()
	}
	return "gpio:" + p.Name()
}

func open(cfg Config, name string, pins [4]gpio.PinIO, desc model.Descriptor) (*Link, error) {
	port, err := spireg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("%w: spireg.Open(%q) = %v", ErrResource, name, err)
	}
	c, err := port.Connect(cfg.Speed, cfg.Mode, 8)
	if err != nil {
		connerr := fmt.Errorf("%w: port.Connect(%v, %v, 8) = %v", ErrResource, cfg.Speed, cfg.Mode, err)
		if err := port.Close(); err != nil {
			return nil, fmt.Errorf("port.Close() = %v while handling %w", err, connerr)
		}
		return nil, connerr
	}

	l := &Link{
		c:     c,
		port:  port,
		reset: pins[0],
		dc:    pins[1],
		cs:    pins[2],
		busy:  pins[3],
		desc:  desc,
		maxTx: cfg.MaxTransfer,
	}
	if err := l.setup(); err != nil {
		_ = port.Close()
		return nil, err
	}
	return l, nil
}

// New builds a Link over caller-supplied handles. The lines are claimed by
// their real names, so two Links can never drive the same pins.
func New(res Resources, desc model.Descriptor) (*Link, error) {
	if res.Conn == nil || res.Reset == nil || res.DC == nil || res.CS == nil || res.Busy == nil {
		return nil, fmt.Errorf("%w: incomplete resources", ErrResource)
	}

	keys := []string{pinKey(res.Reset), pinKey(res.DC), pinKey(res.CS), pinKey(res.Busy)}
	if res.Bus != "" {
		keys = append([]string{"spi:" + res.Bus}, keys...)
	}
	if err := claim(keys); err != nil {
		return nil, err
	}

	l := &Link{
		c:      res.Conn,
		reset:  res.Reset,
		dc:     res.DC,
		cs:     res.CS,
		busy:   res.Busy,
		desc:   desc,
		maxTx:  res.MaxTransfer,
		claims: keys,
	}
	if err := l.setup(); err != nil {
		release(keys)
		return nil, err
	}
	return l, nil
}

// setup drives the lines to their idle levels: reset inactive, select idle,
// command mode, busy as a plain input.
func (l *Link) setup() error {
	if l.maxTx <= 0 {
		l.maxTx = DefaultMaxTransfer
	}
	if err := l.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: %s.Out(%v) = %v", ErrResource, l.reset, gpio.High, err)
	}
	if err := l.cs.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: %s.Out(%v) = %v", ErrResource, l.cs, gpio.High, err)
	}
	if err := l.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: %s.Out(%v) = %v", ErrResource, l.dc, gpio.Low, err)
	}
	if err := l.busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return fmt.Errorf("%w: %s.In(%v, %v) = %v", ErrResource, l.busy, gpio.PullNoChange, gpio.NoEdge, err)
	}
	return nil
}

// Descriptor returns the panel descriptor this link was opened for.
func (l *Link) Descriptor() model.Descriptor {
	return l.desc
}

// SetSelectSetup sets a delay between asserting chip select and writing the
// opcode. Some controllers need it to latch the select line.
func (l *Link) SetSelectSetup(d time.Duration) {
	l.selectSetup = d
}

// SelectSetup returns the delay set by SetSelectSetup.
func (l *Link) SelectSetup() time.Duration {
	return l.selectSetup
}

// PulseReset drives reset low for low, then high for high.
func (l *Link) PulseReset(low, high time.Duration) error {
	if err := l.reset.Out(gpio.Low); err != nil {
		return fmt.Errorf("link: %s.Out(%v) = %w", l.reset, gpio.Low, err)
	}
	time.Sleep(low)
	if err := l.reset.Out(gpio.High); err != nil {
		return fmt.Errorf("link: %s.Out(%v) = %w", l.reset, gpio.High, err)
	}
	time.Sleep(high)
	return nil
}

// Busy returns the current level of the busy line.
func (l *Link) Busy() gpio.Level {
	return l.busy.Read()
}

// WatchBusy arms edge detection on the busy line.
func (l *Link) WatchBusy(edge gpio.Edge) error {
	if err := l.busy.In(gpio.PullNoChange, edge); err != nil {
		return fmt.Errorf("link: %s.In(%v, %v) = %w", l.busy, gpio.PullNoChange, edge, err)
	}
	return nil
}

// WaitBusyEdge blocks until the armed edge fires or timeout elapses. It
// reports whether the edge fired.
func (l *Link) WaitBusyEdge(timeout time.Duration) bool {
	return l.busy.WaitForEdge(timeout)
}

// UnwatchBusy disarms edge detection on the busy line.
func (l *Link) UnwatchBusy() error {
	if err := l.busy.In(gpio.PullNoChange, gpio.NoEdge); err != nil {
		return fmt.Errorf("link: %s.In(%v, %v) = %w", l.busy, gpio.PullNoChange, gpio.NoEdge, err)
	}
	return nil
}

// Close releases the claimed resources and closes the SPI port when Open
// created it. Close is idempotent.
func (l *Link) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	release(l.claims)
	if l.port != nil {
		return l.port.Close()
	}
	return nil
}

func (l *Link) String() string {
	return fmt.Sprintf("link.Link{%s, %s}", l.c, l.desc)
}
