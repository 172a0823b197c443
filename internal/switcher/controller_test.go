package switcher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/krake-hil/canswitcher/internal/expander"
	"github.com/krake-hil/canswitcher/internal/journal"
	"github.com/krake-hil/canswitcher/internal/lock"
	"github.com/krake-hil/canswitcher/internal/smbus"
)

const (
	outputReg0 = 0x02
	usbPinMask = 0x40
)

func newTestController(t *testing.T, mock *smbus.MockController, lockDir string, jnl *journal.Journal) *Controller {
	t.Helper()

	exp, err := expander.New(mock, expander.Options{})
	if err != nil {
		t.Fatalf("Failed to initialize expander: %s", err)
	}

	lk, err := lock.New(lock.TargetInteraction, lockDir)
	if err != nil {
		t.Fatalf("Failed to prepare lock: %s", err)
	}

	return New(exp, lk, jnl)
}

func assertLockFree(t *testing.T, lockDir string) {
	t.Helper()

	l, err := lock.New(lock.TargetInteraction, lockDir)
	if err != nil {
		t.Fatalf("Failed to prepare probe lock: %s", err)
	}

	acquired := make(chan error, 1)
	go func() { acquired <- l.Acquire() }()

	select {
	case err := <-acquired:
		if err != nil {
			t.Fatalf("Probe acquisition failed: %s", err)
		}
		l.Release()
	case <-time.After(time.Second):
		t.Fatal("Lock still held after the operation returned")
	}
}

func countOutputWrites(mock *smbus.MockController) int {
	count := 0
	for _, w := range mock.Writes() {
		if w.Reg == outputReg0 {
			count++
		}
	}
	return count
}

func TestRouteTargets(t *testing.T) {
	mock := smbus.NewMockController()
	ctrl := newTestController(t, mock, t.TempDir(), nil)

	if err := ctrl.Route(RoutePC); err != nil {
		t.Fatalf("Failed to route to pc: %s", err)
	}
	if got := mock.Register(outputReg0) & usbPinMask; got != usbPinMask {
		t.Errorf("USB pin after route(pc): expected high, got 0x%02x", got)
	}

	if err := ctrl.Route(RouteECU); err != nil {
		t.Fatalf("Failed to route to ecu: %s", err)
	}
	if got := mock.Register(outputReg0) & usbPinMask; got != 0 {
		t.Errorf("USB pin after route(ecu): expected low, got 0x%02x", got)
	}
}

func TestRouteIdempotent(t *testing.T) {
	mock := smbus.NewMockController()
	ctrl := newTestController(t, mock, t.TempDir(), nil)

	if err := ctrl.Route(RoutePC); err != nil {
		t.Fatalf("First route(pc) failed: %s", err)
	}
	after := mock.Register(outputReg0)
	writes := countOutputWrites(mock)

	if err := ctrl.Route(RoutePC); err != nil {
		t.Fatalf("Repeated route(pc) failed: %s", err)
	}

	if got := mock.Register(outputReg0); got != after {
		t.Errorf("Repeated route changed the register: 0x%02x -> 0x%02x", after, got)
	}

	// The second call still goes through the full write sequence to
	// self-heal any drift.
	if got := countOutputWrites(mock); got != writes+1 {
		t.Errorf("Repeated route: expected one more output write, got %d -> %d", writes, got)
	}
}

func TestMutualExclusion(t *testing.T) {
	mock := smbus.NewMockController()
	lockDir := t.TempDir()

	first := newTestController(t, mock, lockDir, nil)
	second := newTestController(t, mock, lockDir, nil)

	mock.WriteDelay = 2 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if err := first.Route(RoutePC); err != nil {
				t.Errorf("Concurrent route(pc) failed: %s", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := second.Route(RouteECU); err != nil {
				t.Errorf("Concurrent route(ecu) failed: %s", err)
			}
		}()
	}
	wg.Wait()

	if mock.Overlapped() {
		t.Error("Bus transfers from concurrent route operations overlapped")
	}

	// Whatever won, the switch must rest at one of the two valid states.
	if got := mock.Register(outputReg0); got != 0x9F && got != 0xDF {
		t.Errorf("Final port state is neither valid route: 0x%02x", got)
	}
}

func TestMutualExclusionSharedController(t *testing.T) {
	mock := smbus.NewMockController()
	ctrl := newTestController(t, mock, t.TempDir(), nil)

	mock.WriteDelay = 2 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		target := RoutePC
		if i%2 == 0 {
			target = RouteECU
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ctrl.Route(target); err != nil {
				t.Errorf("Concurrent route(%s) failed: %s", target, err)
			}
		}()
	}
	wg.Wait()

	if mock.Overlapped() {
		t.Error("Bus transfers overlapped while sharing one controller")
	}

	if got := mock.Register(outputReg0); got != 0x9F && got != 0xDF {
		t.Errorf("Final port state is neither valid route: 0x%02x", got)
	}
}

func TestLockReleasedAfterSuccess(t *testing.T) {
	mock := smbus.NewMockController()
	lockDir := t.TempDir()
	ctrl := newTestController(t, mock, lockDir, nil)

	if err := ctrl.Route(RouteECU); err != nil {
		t.Fatalf("Failed to route to ecu: %s", err)
	}

	assertLockFree(t, lockDir)
}

func TestInvalidTarget(t *testing.T) {
	if _, err := ParseRoute("tablet"); err == nil {
		t.Error("Expected ParseRoute to reject 'tablet'")
	}

	var invalid *InvalidTargetError
	if _, err := ParseRoute("usb"); !errors.As(err, &invalid) {
		t.Errorf("Expected InvalidTargetError from ParseRoute, got %v", err)
	}

	mock := smbus.NewMockController()
	ctrl := newTestController(t, mock, t.TempDir(), nil)

	writes := len(mock.Writes())
	if err := ctrl.Route(Route(9)); !errors.As(err, &invalid) {
		t.Fatalf("Expected InvalidTargetError from Route, got %v", err)
	}

	// The error names the value actually supplied.
	if invalid.Target != "route(9)" {
		t.Errorf("InvalidTargetError target: expected route(9), got %q", invalid.Target)
	}

	if got := len(mock.Writes()); got != writes {
		t.Errorf("Invalid target reached the bus: %d new writes", got-writes)
	}
}

func TestBusFailurePropagation(t *testing.T) {
	mock := smbus.NewMockController()
	lockDir := t.TempDir()
	ctrl := newTestController(t, mock, lockDir, nil)

	mock.FailWrites = true
	err := ctrl.Route(RoutePC)

	var routeErr *RouteError
	if !errors.As(err, &routeErr) {
		t.Fatalf("Expected RouteError, got %v", err)
	}
	if routeErr.Route != RoutePC {
		t.Errorf("RouteError target: expected pc, got %s", routeErr.Route)
	}

	var busErr *smbus.BusError
	if !errors.As(err, &busErr) {
		t.Errorf("RouteError should unwrap to the BusError, got %v", err)
	}

	assertLockFree(t, lockDir)
}

func TestRouteJournaled(t *testing.T) {
	jnl, err := journal.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open journal: %s", err)
	}
	defer jnl.Close()

	mock := smbus.NewMockController()
	ctrl := newTestController(t, mock, t.TempDir(), jnl)

	if err := ctrl.Route(RoutePC); err != nil {
		t.Fatalf("Failed to route to pc: %s", err)
	}

	last, err := jnl.Last()
	if err != nil {
		t.Fatalf("Failed to read journal: %s", err)
	}
	if last == nil || last.Route != "pc" {
		t.Errorf("Journaled route: expected pc, got %+v", last)
	}

	status, err := ctrl.Status()
	if err != nil {
		t.Fatalf("Failed to read status: %s", err)
	}
	if status.LastRoute == nil || status.LastRoute.Route != "pc" {
		t.Errorf("Status last route: expected pc, got %+v", status.LastRoute)
	}
	if len(status.Pins) == 0 {
		t.Error("Status should report pin states")
	}
}
