// Package device implements the reference-counted radio/power capability
// shared by the adapters of one process.
package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/1ureka/p2plink/internal/util"
)

// ErrNotHeld is returned when a release is requested without a matching hold.
var ErrNotHeld = errors.New("device: release without hold")

// Controller switches the underlying capability on and off.
type Controller interface {
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// Device powers its controller on for the first holder and off after the
// last release. It is safe for concurrent use.
type Device struct {
	name string
	ctl  Controller

	mu      sync.Mutex
	holders int
	on      bool
}

// New returns a Device named name driving ctl. It starts off with no holders.
func New(name string, ctl Controller) *Device {
	return &Device{name: name, ctl: ctl}
}

func (d *Device) Name() string { return d.name }

// HoldAndTurnOn registers one holder, powering the device on if it is the
// first. The result channel receives exactly one value. No hold is taken
// once ctx has ended.
func (d *Device) HoldAndTurnOn(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if err := ctx.Err(); err != nil {
			result <- err
			return
		}
		if !d.on {
			if err := d.ctl.TurnOn(ctx); err != nil {
				result <- fmt.Errorf("turn on %s: %w", d.name, err)
				return
			}
			d.on = true
			util.LogDebug("device %s: on", d.name)
		}
		d.holders++
		result <- nil
	}()
	return result
}

// ReleaseAndTurnOff drops one holder, powering the device off once nobody
// holds it. A failed power-off keeps the hold so the release can be retried.
func (d *Device) ReleaseAndTurnOff(ctx context.Context) <-chan error {
	result := make(chan error, 1)
	go func() {
		d.mu.Lock()
		defer d.mu.Unlock()

		if d.holders == 0 {
			result <- ErrNotHeld
			return
		}
		if d.holders == 1 && d.on {
			if err := d.ctl.TurnOff(ctx); err != nil {
				result <- fmt.Errorf("turn off %s: %w", d.name, err)
				return
			}
			d.on = false
			util.LogDebug("device %s: off", d.name)
		}
		d.holders--
		result <- nil
	}()
	return result
}

// IsOn reports whether the device is currently powered.
func (d *Device) IsOn() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.on
}

// Holders returns the number of outstanding holds.
func (d *Device) Holders() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.holders
}

// ---------------------------------------------------------------------------
// Controllers
// ---------------------------------------------------------------------------

// AlwaysOn is a Controller for links with no radio of their own to manage.
type AlwaysOn struct{}

func (AlwaysOn) TurnOn(context.Context) error  { return nil }
func (AlwaysOn) TurnOff(context.Context) error { return nil }

// Interface treats a named network interface as the device: it counts as
// powered on only while the interface exists and is up. Powering it off is
// left to the operating system.
type Interface struct {
	Name string

	// lookup is replaced in tests.
	lookup func(name string) (*net.Interface, error)
}

// TurnOn verifies that the interface is present and up.
func (i Interface) TurnOn(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	lookup := i.lookup
	if lookup == nil {
		lookup = net.InterfaceByName
	}
	ifc, err := lookup(i.Name)
	if err != nil {
		return fmt.Errorf("interface %q: %w", i.Name, err)
	}
	if ifc.Flags&net.FlagUp == 0 {
		return fmt.Errorf("interface %q is down", i.Name)
	}
	return nil
}

func (Interface) TurnOff(context.Context) error { return nil }
