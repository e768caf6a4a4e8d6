package link

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// Transaction is one register write: an opcode and an optional payload.
// A nil Data sends the opcode alone.
type Transaction struct {
	Opcode byte
	Data   []byte
}

// Command builds a transaction without payload.
func Command(op byte) Transaction {
	return Transaction{Opcode: op}
}

// WithData builds a transaction with payload.
func WithData(op byte, data ...byte) Transaction {
	if data == nil {
		data = []byte{}
	}
	return Transaction{Opcode: op, Data: data}
}

func (t Transaction) String() string {
	if t.Data == nil {
		return fmt.Sprintf("0x%02X", t.Opcode)
	}
	return fmt.Sprintf("0x%02X+%dB", t.Opcode, len(t.Data))
}

// Send frames t on the bus: select low and command mode, the opcode, then
// data mode and the payload in chunks of at most MaxTransfer bytes. Select
// is released and the data/command line returned to command mode even when
// a write fails.
func (l *Link) Send(t Transaction) (err error) {
	if l.closed {
		return fmt.Errorf("%w: link closed", ErrTransfer)
	}
	if err := l.cs.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: %s.Out(%v) = %v", ErrTransfer, l.cs, gpio.Low, err)
	}
	defer func() {
		if e := l.cs.Out(gpio.High); e != nil && err == nil {
			err = fmt.Errorf("%w: %s.Out(%v) = %v", ErrTransfer, l.cs, gpio.High, e)
		}
		if e := l.dc.Out(gpio.Low); e != nil && err == nil {
			err = fmt.Errorf("%w: %s.Out(%v) = %v", ErrTransfer, l.dc, gpio.Low, e)
		}
	}()

	if err := l.dc.Out(gpio.Low); err != nil {
		return fmt.Errorf("%w: %s.Out(%v) = %v", ErrTransfer, l.dc, gpio.Low, err)
	}
	if l.selectSetup > 0 {
		time.Sleep(l.selectSetup)
	}
	if err := l.c.Tx([]byte{t.Opcode}, nil); err != nil {
		return fmt.Errorf("%w: command 0x%02X: %v", ErrTransfer, t.Opcode, err)
	}
	if t.Data == nil {
		return nil
	}

	if err := l.dc.Out(gpio.High); err != nil {
		return fmt.Errorf("%w: %s.Out(%v) = %v", ErrTransfer, l.dc, gpio.High, err)
	}
	return l.writeChunks(t.Opcode, t.Data)
}

func (l *Link) writeChunks(op byte, p []byte) error {
	for i := 0; i < len(p); i += l.maxTx {
		j := i + l.maxTx
		if j > len(p) {
			j = len(p)
		}
		if err := l.c.Tx(p[i:j], nil); err != nil {
			return fmt.Errorf("%w: command 0x%02X data [%d:%d]: %v", ErrTransfer, op, i, j, err)
		}
	}
	return nil
}
