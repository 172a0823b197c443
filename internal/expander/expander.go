// Package expander drives the PCA9539A I2C port expander on the CAN
// switcher PCB. See the NXP datasheet for the register layout:
// https://www.nxp.com/docs/en/data-sheet/PCA9539A.pdf
package expander

import (
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/krake-hil/canswitcher/internal/smbus"
)

const (
	DefaultBus     = 1
	DefaultAddress = 0x74

	// Polarity of the USB switch pin flipped with switcher standard 2.0.
	DefaultUSBStandard = "2.0"
	DefaultBoard       = "1.2"

	portCount = 2
)

var (
	inputRegs  = [portCount]uint8{0x00, 0x01}
	outputRegs = [portCount]uint8{0x02, 0x03}
	configRegs = [portCount]uint8{0x06, 0x07}
)

type Options struct {
	Bus          int
	Address      uint8
	BoardVersion string
	USBStandard  string
	ConfigPath   string
}

type Expander struct {
	ctrl smbus.ControllerInterface

	bus         int
	addr        uint8
	board       *BoardConfig
	usbStandard string

	logger *log.Entry
}

// New resolves the pinout for the board revision and brings the expander
// into its default IO configuration if it is not already there.
func New(ctrl smbus.ControllerInterface, opts Options) (*Expander, error) {
	if opts.Bus == 0 {
		opts.Bus = DefaultBus
	}
	if opts.Address == 0 {
		opts.Address = DefaultAddress
	}
	if opts.BoardVersion == "" {
		opts.BoardVersion = DefaultBoard
	}
	if opts.USBStandard == "" {
		opts.USBStandard = DefaultUSBStandard
	}

	config, err := loadConfig(opts.ConfigPath)
	if err != nil {
		return nil, err
	}

	board, err := config.findBoard(opts.BoardVersion)
	if err != nil {
		return nil, err
	}

	e := &Expander{
		ctrl:        ctrl,
		bus:         opts.Bus,
		addr:        opts.Address,
		board:       board,
		usbStandard: opts.USBStandard,
		logger: log.WithFields(log.Fields{
			"bus":   opts.Bus,
			"addr":  fmt.Sprintf("0x%02x", opts.Address),
			"board": opts.BoardVersion,
		}),
	}

	if err := e.initialize(); err != nil {
		return nil, err
	}

	return e, nil
}

// initialize compares the configuration registers against the pinout and,
// on a cold or misconfigured chip, programs the directions and default
// output levels.
func (e *Expander) initialize() error {
	dev, err := e.ctrl.Open(e.bus)
	if err != nil {
		return err
	}
	defer dev.Close()

	directions := e.board.directionMasks()

	configured := true
	for port := 0; port < portCount; port++ {
		current, err := dev.ReadByteData(e.addr, configRegs[port])
		if err != nil {
			return err
		}

		// A high configuration bit is an input; the direction mask
		// marks outputs.
		if current != ^directions[port] {
			configured = false
		}
	}

	if configured {
		e.logger.Debug("Expander already at default IO configuration")
		return nil
	}

	e.logger.Info("Programming expander default IO configuration")

	defaults := e.board.defaultLevels()
	for port := 0; port < portCount; port++ {
		if err := dev.WriteByteData(e.addr, outputRegs[port], defaults[port]); err != nil {
			return err
		}

		if err := dev.WriteByteData(e.addr, configRegs[port], ^directions[port]); err != nil {
			return err
		}
	}

	return nil
}

// SetPinLevel performs a read-modify-write of one output pin and verifies
// the result by reading the pins back.
func (e *Expander) SetPinLevel(port int, pin uint, level uint8) error {
	dev, err := e.ctrl.Open(e.bus)
	if err != nil {
		return err
	}
	defer dev.Close()

	current, err := dev.ReadByteData(e.addr, inputRegs[port])
	if err != nil {
		return err
	}

	next := current &^ (1 << pin)
	if level != 0 {
		next |= 1 << pin
	}

	return e.writePort(dev, port, next)
}

// SetPortLevel writes a full output port and verifies it by readback.
func (e *Expander) SetPortLevel(port int, level uint8) error {
	dev, err := e.ctrl.Open(e.bus)
	if err != nil {
		return err
	}
	defer dev.Close()

	return e.writePort(dev, port, level)
}

func (e *Expander) writePort(dev smbus.DeviceInterface, port int, level uint8) error {
	e.logger.WithFields(log.Fields{"port": port, "level": fmt.Sprintf("0x%02x", level)}).Debug("Writing output port")

	if err := dev.WriteByteData(e.addr, outputRegs[port], level); err != nil {
		return err
	}

	back, err := dev.ReadByteData(e.addr, inputRegs[port])
	if err != nil {
		return err
	}

	// Input pins float independently of the output latch; mask them out
	// of the comparison.
	outputs := e.board.directionMasks()[port]
	if back&outputs != level&outputs {
		return &ReadbackError{Port: port, Want: level & outputs, Got: back & outputs}
	}

	return nil
}

// PortLevel reads the live pin levels of one port.
func (e *Expander) PortLevel(port int) (uint8, error) {
	if port < 0 || port >= portCount {
		return 0, fmt.Errorf("no port %d on the expander", port)
	}

	dev, err := e.ctrl.Open(e.bus)
	if err != nil {
		return 0, err
	}
	defer dev.Close()

	return dev.ReadByteData(e.addr, inputRegs[port])
}

// PinState is the decoded live state of one named pin.
type PinState struct {
	Name  string
	Level uint8
	On    bool
}

// PinStates reads both ports and decodes every pin named in the pinout.
// Relays are wired active-low; everything else reads high-active.
func (e *Expander) PinStates() ([]PinState, error) {
	dev, err := e.ctrl.Open(e.bus)
	if err != nil {
		return nil, err
	}
	defer dev.Close()

	var levels [portCount]uint8
	for port := 0; port < portCount; port++ {
		if levels[port], err = dev.ReadByteData(e.addr, inputRegs[port]); err != nil {
			return nil, err
		}
	}

	states := make([]PinState, 0, len(e.board.Pins))
	for _, pin := range e.board.Pins {
		level := (levels[pin.Port] & pin.mask) >> pin.Pin

		on := level != 0
		if strings.HasPrefix(pin.Name, "Relay") {
			on = level == 0
		}

		states = append(states, PinState{Name: pin.Name, Level: level, On: on})
	}

	return states, nil
}

// ConnectUSBToPi routes the USB peripheral to the Raspberry Pi connector.
func (e *Expander) ConnectUSBToPi() error {
	return e.setUSBSwitch(true)
}

// ConnectUSBToExternal routes the USB peripheral to the external USB
// connector.
func (e *Expander) ConnectUSBToExternal() error {
	return e.setUSBSwitch(false)
}

func (e *Expander) setUSBSwitch(toPi bool) error {
	pin, ok := e.board.pin("USB_Switch")
	if !ok {
		return fmt.Errorf("board version %s has no USB switch pin", e.board.Version)
	}

	// Switcher standards before 2.0 wired the mux select inverted.
	level := uint8(0)
	if toPi == (e.usbStandard == "2.0") {
		level = 1
	}

	return e.SetPinLevel(pin.Port, pin.Pin, level)
}

// SetRelay drives one of the six external relay channels. The relay
// drivers are active-low.
func (e *Expander) SetRelay(relay int, on bool) error {
	if relay < 1 || relay > 6 {
		return &RelayRangeError{Relay: relay}
	}

	pin, ok := e.board.pin(fmt.Sprintf("Relay_%d", relay))
	if !ok {
		return fmt.Errorf("board version %s has no relay %d", e.board.Version, relay)
	}

	level := uint8(1)
	if on {
		level = 0
	}

	return e.SetPinLevel(pin.Port, pin.Pin, level)
}

// SelectCANChannel enables one CAN route relay and disables all others in
// a single port write, so two channels can never be cross-linked.
func (e *Expander) SelectCANChannel(channel int) error {
	if channel < 1 || channel > 8 {
		return &ChannelRangeError{Channel: channel}
	}

	pin, ok := e.board.pin(fmt.Sprintf("Route_CAN_%d", channel))
	if !ok {
		return fmt.Errorf("board version %s has no CAN channel %d", e.board.Version, channel)
	}

	return e.SetPortLevel(pin.Port, pin.mask)
}

// DisableCANChannels opens every CAN route relay.
func (e *Expander) DisableCANChannels() error {
	pin, ok := e.board.pin("Route_CAN_1")
	if !ok {
		return fmt.Errorf("board version %s has no CAN channels", e.board.Version)
	}

	return e.SetPortLevel(pin.Port, 0x00)
}

// SetCANBridge connects or disconnects CAN0 and CAN1 on the PCB. Only
// board version 1.0 carries the bridge.
func (e *Expander) SetCANBridge(on bool) error {
	pin, ok := e.board.pin("Switch_CAN_Short")
	if !ok {
		return fmt.Errorf("board version %s has no CAN interface bridge", e.board.Version)
	}

	level := uint8(0)
	if on {
		level = 1
	}

	return e.SetPinLevel(pin.Port, pin.Pin, level)
}

// SetEEPROMWriteProtect drives the ID EEPROM write-protect line where the
// board has one.
func (e *Expander) SetEEPROMWriteProtect(on bool) error {
	pin, ok := e.board.pin("Eeprom_WP")
	if !ok {
		return fmt.Errorf("board version %s has no EEPROM write protection", e.board.Version)
	}

	level := uint8(0)
	if on {
		level = 1
	}

	return e.SetPinLevel(pin.Port, pin.Pin, level)
}

// Board returns the resolved board pinout version.
func (e *Expander) Board() string { return e.board.Version }
