// Package switcher owns the safety guarantees around repositioning the
// USB switch: target validation, process-level mutual exclusion, and a
// known end state even under failure.
package switcher

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/krake-hil/canswitcher/internal/expander"
	"github.com/krake-hil/canswitcher/internal/journal"
	"github.com/krake-hil/canswitcher/internal/lock"
)

// Controller is the only entry point for driving the switcher hardware.
// All operations run under the target interaction lock; concurrency comes
// from independent processes, so the lock is file-backed rather than an
// in-process mutex.
type Controller struct {
	exp     *expander.Expander
	lock    *lock.Lock
	journal *journal.Journal

	operationID string
	logger      *log.Entry
}

// New builds a controller around an initialized expander. The journal is
// optional; without one, route transitions are only logged.
func New(exp *expander.Expander, lk *lock.Lock, jnl *journal.Journal) *Controller {
	operationID := uuid.New().String()

	return &Controller{
		exp:         exp,
		lock:        lk,
		journal:     jnl,
		operationID: operationID,
		logger:      log.WithFields(log.Fields{"operation": operationID}),
	}
}

// Route connects the USB drive to the given target. The full
// validate-lock-write sequence runs even when the switch is already at
// the target, which self-heals any state drift at the cost of one
// redundant write.
func (c *Controller) Route(target Route) error {
	if !target.valid() {
		return &InvalidTargetError{Target: fmt.Sprintf("route(%d)", target)}
	}

	return c.withLock(func() error {
		c.logger.Infof("Connecting USB drive to %s", target)

		var err error
		switch target {
		case RoutePC:
			err = c.exp.ConnectUSBToPi()
		case RouteECU:
			err = c.exp.ConnectUSBToExternal()
		}

		if err != nil {
			return &RouteError{Route: target, Err: err}
		}

		c.commit(target)
		return nil
	})
}

// commit records the new authoritative state. A journal fault must not
// fail the operation: the hardware write already happened.
func (c *Controller) commit(target Route) {
	c.logger.Infof("USB drive connected to %s", target)

	if c.journal == nil {
		return
	}

	rec := journal.Record{
		Route:       target.String(),
		OperationID: c.operationID,
		At:          time.Now().UTC(),
	}

	if err := c.journal.Commit(rec); err != nil {
		c.logger.WithError(err).Warn("Route established but not journaled")
	}
}

// Status is the observable state of the switcher.
type Status struct {
	Board     string
	Pins      []expander.PinState
	LastRoute *journal.Record
}

// Status reads the live pin states and the last journaled route.
func (c *Controller) Status() (*Status, error) {
	status := &Status{Board: c.exp.Board()}

	err := c.withLock(func() error {
		pins, err := c.exp.PinStates()
		if err != nil {
			return err
		}
		status.Pins = pins
		return nil
	})
	if err != nil {
		return nil, err
	}

	if c.journal != nil {
		last, err := c.journal.Last()
		if err != nil {
			c.logger.WithError(err).Warn("Journal not readable")
		}
		status.LastRoute = last
	}

	return status, nil
}

// SetRelay drives an external relay channel under the hardware lock.
func (c *Controller) SetRelay(relay int, on bool) error {
	return c.withLock(func() error {
		c.logger.Infof("Setting relay %d to %s", relay, onOff(on))
		return c.exp.SetRelay(relay, on)
	})
}

// SelectCANChannel routes a single CAN channel under the hardware lock.
func (c *Controller) SelectCANChannel(channel int) error {
	return c.withLock(func() error {
		c.logger.Infof("Selecting CAN channel %d", channel)
		return c.exp.SelectCANChannel(channel)
	})
}

// DisableCANChannels opens all CAN route relays under the hardware lock.
func (c *Controller) DisableCANChannels() error {
	return c.withLock(func() error {
		c.logger.Info("Disabling all CAN channels")
		return c.exp.DisableCANChannels()
	})
}

// SetCANBridge connects or disconnects the CAN0/CAN1 bridge under the
// hardware lock.
func (c *Controller) SetCANBridge(on bool) error {
	return c.withLock(func() error {
		c.logger.Infof("Setting CAN bridge to %s", onOff(on))
		return c.exp.SetCANBridge(on)
	})
}

// withLock runs f inside the target interaction lock scope. The release
// is unconditional; a release fault is logged, never surfaced over f's
// result.
func (c *Controller) withLock(f func() error) error {
	if err := c.lock.Acquire(); err != nil {
		return &LockError{Name: lock.TargetInteraction, Err: err}
	}

	defer func() {
		if err := c.lock.Release(); err != nil {
			c.logger.WithError(err).Error("Hardware lock not released")
		}
	}()

	return f()
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
