// Package linktest provides a simulated bus and lines for link.Link, built on
// periph's gpiotest pins.
package linktest

import (
	"sync"

	"periph.io/x/conn/v3"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"

	"inkpanel/internal/link"
	"inkpanel/internal/model"
)

// Write is one bus transfer together with the line levels seen while it
// was issued.
type Write struct {
	DC gpio.Level
	CS gpio.Level
	B  []byte
}

// Bus is a write-only conn.Conn that records every transfer.
type Bus struct {
	dc, cs *gpiotest.Pin

	mu     sync.Mutex
	writes []Write
	// FailAt makes the FailAt-th transfer (1-based) return Err. 0 disables it.
	FailAt int
	Err    error
}

func (b *Bus) String() string {
	return "linktest.Bus"
}

func (b *Bus) Duplex() conn.Duplex {
	return conn.Half
}

func (b *Bus) Tx(w, r []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.FailAt > 0 && len(b.writes)+1 == b.FailAt {
		b.writes = append(b.writes, Write{DC: b.dc.Read(), CS: b.cs.Read()})
		return b.Err
	}
	buf := make([]byte, len(w))
	copy(buf, w)
	b.writes = append(b.writes, Write{DC: b.dc.Read(), CS: b.cs.Read(), B: buf})
	return nil
}

// Writes returns a copy of the recorded transfers.
func (b *Bus) Writes() []Write {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Write, len(b.writes))
	copy(out, b.writes)
	return out
}

// Transactions regroups the recorded transfers: a transfer in command mode
// starts a transaction, transfers in data mode extend its payload.
func (b *Bus) Transactions() []link.Transaction {
	var out []link.Transaction
	for _, w := range b.Writes() {
		if w.DC == gpio.Low {
			for _, op := range w.B {
				out = append(out, link.Command(op))
			}
			continue
		}
		if len(out) == 0 {
			continue
		}
		last := &out[len(out)-1]
		last.Data = append(last.Data, w.B...)
	}
	return out
}

// Reset forgets recorded transfers.
func (b *Bus) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.writes = nil
}

// BusyPin is a gpiotest.Pin whose In only records the requested edge, so
// edges queued on EdgesChan survive arming.
type BusyPin struct {
	*gpiotest.Pin

	mu    sync.Mutex
	edges []gpio.Edge
}

func (p *BusyPin) In(pull gpio.Pull, edge gpio.Edge) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.edges = append(p.edges, edge)
	return nil
}

// Arms returns every edge passed to In, in order.
func (p *BusyPin) Arms() []gpio.Edge {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]gpio.Edge, len(p.edges))
	copy(out, p.edges)
	return out
}

// Armed reports whether the last In call left edge detection enabled.
func (p *BusyPin) Armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.edges) > 0 && p.edges[len(p.edges)-1] != gpio.NoEdge
}

// Set forces the line level.
func (p *BusyPin) Set(l gpio.Level) {
	_ = p.Pin.Out(l)
}

// QueueEdge makes the next WaitForEdge return true and leave the line at l.
func (p *BusyPin) QueueEdge(l gpio.Level) {
	p.EdgesChan <- l
}

// Rig is a simulated panel connection.
type Rig struct {
	Bus   *Bus
	Reset *gpiotest.Pin
	DC    *gpiotest.Pin
	CS    *gpiotest.Pin
	Busy  *BusyPin
}

// NewRig builds simulated lines named after prefix. Use a distinct prefix
// per test: the names are claimed by link.New.
func NewRig(prefix string) *Rig {
	r := &Rig{
		Reset: &gpiotest.Pin{N: prefix + "_RST", Num: 27},
		DC:    &gpiotest.Pin{N: prefix + "_DC", Num: 22},
		CS:    &gpiotest.Pin{N: prefix + "_CS", Num: 8},
		Busy: &BusyPin{Pin: &gpiotest.Pin{
			N:         prefix + "_BUSY",
			Num:       17,
			EdgesChan: make(chan gpio.Level, 16),
		}},
	}
	r.Bus = &Bus{dc: r.DC, cs: r.CS}
	return r
}

// Resources returns handles for link.New.
func (r *Rig) Resources() link.Resources {
	return link.Resources{
		Conn:  r.Bus,
		Reset: r.Reset,
		DC:    r.DC,
		CS:    r.CS,
		Busy:  r.Busy,
	}
}

// Open builds a rig and a link over it.
func Open(prefix string, desc model.Descriptor) (*link.Link, *Rig, error) {
	r := NewRig(prefix)
	l, err := link.New(r.Resources(), desc)
	if err != nil {
		return nil, nil, err
	}
	return l, r, nil
}
