package epd

import (
	"fmt"
	"time"

	"periph.io/x/conn/v3/gpio"

	"inkpanel/internal/link"
	appLog "inkpanel/internal/log"
)

// busyWait is a family's policy for synchronising on the busy line.
//
// With levelFallback set, a line already sitting at the fallback level on
// entry is taken to mean the host is not receiving a real busy signal (the
// pull-up wins); the wait then just sleeps for the timeout and succeeds.
//
// Otherwise the ready edge is armed and waited on. A line already at the
// ready level once armed returns at once. A timeout is an ErrBusyTimeout.
// Edge detection is always disarmed before returning.
type busyWait struct {
	ready         gpio.Edge
	levelFallback bool
	fallbackLevel gpio.Level
	def           time.Duration
}

func (w busyWait) readyLevel() gpio.Level {
	return w.ready == gpio.RisingEdge
}

func (w busyWait) wait(l *link.Link, timeout time.Duration) (err error) {
	if timeout <= 0 {
		timeout = w.def
	}

	if w.levelFallback && l.Busy() == w.fallbackLevel {
		appLog.Debug("epd busy line idle on entry; sleeping", "timeout", timeout)
		time.Sleep(timeout)
		return nil
	}

	if err := l.WatchBusy(w.ready); err != nil {
		return err
	}
	defer func() {
		if e := l.UnwatchBusy(); e != nil && err == nil {
			err = e
		}
	}()

	if l.Busy() == w.readyLevel() {
		return nil
	}
	if !l.WaitBusyEdge(timeout) {
		return fmt.Errorf("%w: no %v edge within %v", ErrBusyTimeout, w.ready, timeout)
	}
	return nil
}
