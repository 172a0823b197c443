package expander

import (
	"errors"
	"testing"

	"github.com/krake-hil/canswitcher/internal/smbus"
)

const (
	outputReg0 = 0x02
	outputReg1 = 0x03
	configReg0 = 0x06
	configReg1 = 0x07
)

func newTestExpander(t *testing.T, mock *smbus.MockController, opts Options) *Expander {
	t.Helper()

	exp, err := New(mock, opts)
	if err != nil {
		t.Fatalf("Failed to initialize expander: %s", err)
	}

	return exp
}

func TestInitializeColdChip(t *testing.T) {
	mock := smbus.NewMockController()
	newTestExpander(t, mock, Options{})

	if got := mock.Register(configReg0); got != 0x20 {
		t.Errorf("Port 0 configuration: expected 0x20, got 0x%02x", got)
	}
	if got := mock.Register(configReg1); got != 0x00 {
		t.Errorf("Port 1 configuration: expected 0x00, got 0x%02x", got)
	}
	if got := mock.Register(outputReg0); got != 0x9F {
		t.Errorf("Port 0 defaults: expected 0x9f, got 0x%02x", got)
	}
	if got := mock.Register(outputReg1); got != 0x00 {
		t.Errorf("Port 1 defaults: expected 0x00, got 0x%02x", got)
	}
}

func TestInitializeConfiguredChip(t *testing.T) {
	mock := smbus.NewMockController()
	newTestExpander(t, mock, Options{})

	before := len(mock.Writes())
	newTestExpander(t, mock, Options{})

	if after := len(mock.Writes()); after != before {
		t.Errorf("Second initialization reprogrammed a configured chip: %d new writes", after-before)
	}
}

func TestUSBSwitchPolarity(t *testing.T) {
	tests := []struct {
		standard string
		toPi     uint8
	}{
		{"2.0", 0x40},
		{"1.0", 0x00},
	}

	for _, tt := range tests {
		mock := smbus.NewMockController()
		exp := newTestExpander(t, mock, Options{USBStandard: tt.standard})

		if err := exp.ConnectUSBToPi(); err != nil {
			t.Fatalf("standard %s: ConnectUSBToPi failed: %s", tt.standard, err)
		}
		if got := mock.Register(outputReg0) & 0x40; got != tt.toPi {
			t.Errorf("standard %s: USB pin after ConnectUSBToPi: expected 0x%02x, got 0x%02x", tt.standard, tt.toPi, got)
		}

		if err := exp.ConnectUSBToExternal(); err != nil {
			t.Fatalf("standard %s: ConnectUSBToExternal failed: %s", tt.standard, err)
		}
		if got := mock.Register(outputReg0) & 0x40; got != 0x40&^tt.toPi {
			t.Errorf("standard %s: USB pin after ConnectUSBToExternal: expected 0x%02x, got 0x%02x", tt.standard, 0x40&^tt.toPi, got)
		}
	}
}

func TestRelays(t *testing.T) {
	mock := smbus.NewMockController()
	exp := newTestExpander(t, mock, Options{})

	// Relay drivers are active-low; the default level is off (1).
	if err := exp.SetRelay(1, true); err != nil {
		t.Fatalf("Failed to enable relay 1: %s", err)
	}
	if got := mock.Register(outputReg0) & 0x01; got != 0x00 {
		t.Errorf("Relay 1 pin after enable: expected low, got 0x%02x", got)
	}

	if err := exp.SetRelay(1, false); err != nil {
		t.Fatalf("Failed to disable relay 1: %s", err)
	}
	if got := mock.Register(outputReg0) & 0x01; got != 0x01 {
		t.Errorf("Relay 1 pin after disable: expected high, got 0x%02x", got)
	}

	for _, relay := range []int{0, 7} {
		var rangeErr *RelayRangeError
		if err := exp.SetRelay(relay, true); !errors.As(err, &rangeErr) {
			t.Errorf("Relay %d: expected RelayRangeError, got %v", relay, err)
		}
	}
}

func TestCANChannelSelection(t *testing.T) {
	mock := smbus.NewMockController()
	exp := newTestExpander(t, mock, Options{})

	if err := exp.SelectCANChannel(3); err != nil {
		t.Fatalf("Failed to select CAN channel 3: %s", err)
	}
	if got := mock.Register(outputReg1); got != 0x04 {
		t.Errorf("Route port after selecting channel 3: expected 0x04, got 0x%02x", got)
	}

	// Selecting another channel must open the first in the same write.
	if err := exp.SelectCANChannel(8); err != nil {
		t.Fatalf("Failed to select CAN channel 8: %s", err)
	}
	if got := mock.Register(outputReg1); got != 0x80 {
		t.Errorf("Route port after selecting channel 8: expected 0x80, got 0x%02x", got)
	}

	if err := exp.DisableCANChannels(); err != nil {
		t.Fatalf("Failed to disable CAN channels: %s", err)
	}
	if got := mock.Register(outputReg1); got != 0x00 {
		t.Errorf("Route port after disabling channels: expected 0x00, got 0x%02x", got)
	}

	for _, channel := range []int{0, 9} {
		var rangeErr *ChannelRangeError
		if err := exp.SelectCANChannel(channel); !errors.As(err, &rangeErr) {
			t.Errorf("Channel %d: expected ChannelRangeError, got %v", channel, err)
		}
	}
}

func TestCANBridgeAvailability(t *testing.T) {
	mock := smbus.NewMockController()
	exp := newTestExpander(t, mock, Options{BoardVersion: "1.0"})

	if err := exp.SetCANBridge(true); err != nil {
		t.Errorf("Board 1.0: expected CAN bridge support, got %s", err)
	}
	if got := mock.Register(outputReg0) & 0x80; got != 0x80 {
		t.Errorf("Bridge pin after enable: expected high, got 0x%02x", got)
	}

	mock = smbus.NewMockController()
	exp = newTestExpander(t, mock, Options{BoardVersion: "1.2"})

	if err := exp.SetCANBridge(true); err == nil {
		t.Error("Board 1.2: expected an error for the missing CAN bridge")
	}
}

func TestReadbackVerification(t *testing.T) {
	mock := smbus.NewMockController()
	exp := newTestExpander(t, mock, Options{})

	// Relay 1's pin is stuck at its current (high) level.
	mock.Sticky = map[uint8]uint8{outputReg0: 0x01}

	var readbackErr *ReadbackError
	if err := exp.SetRelay(1, true); !errors.As(err, &readbackErr) {
		t.Fatalf("Expected ReadbackError for a stuck pin, got %v", err)
	}
}

func TestPinStates(t *testing.T) {
	mock := smbus.NewMockController()
	exp := newTestExpander(t, mock, Options{})

	states, err := exp.PinStates()
	if err != nil {
		t.Fatalf("Failed to read pin states: %s", err)
	}

	expected := map[string]bool{
		"Relay_1":     false, // active-low, defaults off
		"USB_Switch":  false,
		"Eeprom_WP":   true,
		"Route_CAN_1": false,
	}

	found := 0
	for _, state := range states {
		want, ok := expected[state.Name]
		if !ok {
			continue
		}
		found++

		if state.On != want {
			t.Errorf("Pin %s: expected on=%v, got on=%v (level %d)", state.Name, want, state.On, state.Level)
		}
	}

	if found != len(expected) {
		t.Errorf("Expected %d named pins in the report, found %d", len(expected), found)
	}
}
