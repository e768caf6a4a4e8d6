// Package epd implements the controller drivers for the supported e-paper
// panel families. A driver owns one link.Link and turns a packed frame into
// the family's reset, configuration, streaming, refresh and sleep sequence.
//
// Drivers keep no state between calls: the controllers forget their
// configuration in deep sleep, so every Update replays the whole protocol.
package epd

import (
	"errors"
	"time"

	"inkpanel/internal/link"
	appLog "inkpanel/internal/log"
	"inkpanel/internal/model"
)

// ErrBusyTimeout is returned when an armed busy edge does not fire in time.
var ErrBusyTimeout = errors.New("epd: timed out waiting for busy line")

// Driver is the operation set shared by every panel family.
type Driver interface {
	// Reset pulses the reset line and brings the controller to a state
	// where it accepts configuration.
	Reset() error
	// Update shows buf, which must come from Convert, and leaves the
	// controller asleep. It cannot be cancelled once started.
	Update(buf []byte) error
	// Wait blocks until the busy line reports idle. A zero timeout selects
	// the family default.
	Wait(timeout time.Duration) error
	// Send issues a single transaction.
	Send(tx link.Transaction) error
	// Convert packs a row-major colour grid into the family's frame format.
	// It has no side effects.
	Convert(pixels [][]model.Color) ([]byte, error)
	// Close releases the link.
	Close() error
}

// Phase is a step of the update protocol. Drivers walk Resetting through
// Sleeping on every Update.
type Phase int

const (
	Uninitialized Phase = iota
	Resetting
	Configuring
	Streaming
	Refreshing
	Sleeping
)

func (p Phase) String() string {
	switch p {
	case Uninitialized:
		return "uninitialized"
	case Resetting:
		return "resetting"
	case Configuring:
		return "configuring"
	case Streaming:
		return "streaming"
	case Refreshing:
		return "refreshing"
	case Sleeping:
		return "sleeping"
	default:
		return "unknown"
	}
}

// sendAll issues txs in order and stops at the first failure.
func sendAll(l *link.Link, txs []link.Transaction) error {
	for _, tx := range txs {
		if err := l.Send(tx); err != nil {
			return err
		}
	}
	return nil
}

func enter(family model.Family, p Phase) {
	appLog.Debug("epd phase", "family", family, "phase", p)
}
