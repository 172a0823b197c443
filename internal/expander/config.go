package expander

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

// Default pinout for the CAN switcher PCB revisions in the field. Board
// version 1.0 carried the CAN interface bridge on port 0 pin 7; later
// revisions replaced it with the EEPROM write-protect line.
const configFile = `
version: v1
metadata:
  name: CAN Switcher Pinout
boards:
  - version: "1.0"
    pins:
      - name: Relay_1
        port: 0
        pin: 0
        direction: out
        default: 1
      - name: Relay_2
        port: 0
        pin: 1
        direction: out
        default: 1
      - name: Relay_3
        port: 0
        pin: 2
        direction: out
        default: 1
      - name: Relay_4
        port: 0
        pin: 3
        direction: out
        default: 1
      - name: Relay_5
        port: 0
        pin: 4
        direction: out
        default: 1
      - name: Relay_6
        port: 0
        pin: 5
        direction: in
        default: 0
      - name: USB_Switch
        port: 0
        pin: 6
        direction: out
        default: 0
      - name: Switch_CAN_Short
        port: 0
        pin: 7
        direction: out
        default: 0
      - name: Route_CAN_1
        port: 1
        pin: 0
        direction: out
        default: 0
      - name: Route_CAN_2
        port: 1
        pin: 1
        direction: out
        default: 0
      - name: Route_CAN_3
        port: 1
        pin: 2
        direction: out
        default: 0
      - name: Route_CAN_4
        port: 1
        pin: 3
        direction: out
        default: 0
      - name: Route_CAN_5
        port: 1
        pin: 4
        direction: out
        default: 0
      - name: Route_CAN_6
        port: 1
        pin: 5
        direction: out
        default: 0
      - name: Route_CAN_7
        port: 1
        pin: 6
        direction: out
        default: 0
      - name: Route_CAN_8
        port: 1
        pin: 7
        direction: out
        default: 0
  - version: "1.1"
    pins: &defaultPins
      - name: Relay_1
        port: 0
        pin: 0
        direction: out
        default: 1
      - name: Relay_2
        port: 0
        pin: 1
        direction: out
        default: 1
      - name: Relay_3
        port: 0
        pin: 2
        direction: out
        default: 1
      - name: Relay_4
        port: 0
        pin: 3
        direction: out
        default: 1
      - name: Relay_5
        port: 0
        pin: 4
        direction: out
        default: 1
      - name: Relay_6
        port: 0
        pin: 5
        direction: in
        default: 0
      - name: USB_Switch
        port: 0
        pin: 6
        direction: out
        default: 0
      - name: Eeprom_WP
        port: 0
        pin: 7
        direction: out
        default: 1
      - name: Route_CAN_1
        port: 1
        pin: 0
        direction: out
        default: 0
      - name: Route_CAN_2
        port: 1
        pin: 1
        direction: out
        default: 0
      - name: Route_CAN_3
        port: 1
        pin: 2
        direction: out
        default: 0
      - name: Route_CAN_4
        port: 1
        pin: 3
        direction: out
        default: 0
      - name: Route_CAN_5
        port: 1
        pin: 4
        direction: out
        default: 0
      - name: Route_CAN_6
        port: 1
        pin: 5
        direction: out
        default: 0
      - name: Route_CAN_7
        port: 1
        pin: 6
        direction: out
        default: 0
      - name: Route_CAN_8
        port: 1
        pin: 7
        direction: out
        default: 0
  - version: "1.2"
    pins: *defaultPins
`

type ConfigFile struct {
	Version  string
	Metadata struct {
		Name string
	}
	Boards []BoardConfig
}

type BoardConfig struct {
	Version string
	Pins    []PinConfig
}

type PinConfig struct {
	Name      string
	Port      int
	Pin       uint
	Direction string
	Default   uint8

	mask uint8
}

func loadConfig(path string) (*ConfigFile, error) {
	data := []byte(configFile)

	if path != "" {
		var err error
		if data, err = os.ReadFile(path); err != nil {
			return nil, fmt.Errorf("pinout config: %w", err)
		}
	}

	config := new(ConfigFile)
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("pinout config: %w", err)
	}

	for boardIdx := range config.Boards {
		board := &config.Boards[boardIdx]
		for pinIdx := range board.Pins {
			pin := &board.Pins[pinIdx]

			if pin.Port < 0 || pin.Port >= portCount || pin.Pin > 7 {
				return nil, fmt.Errorf("pinout config: board %s: pin %s: no port %d pin %d on the expander",
					board.Version, pin.Name, pin.Port, pin.Pin)
			}

			if pin.Direction != "in" && pin.Direction != "out" {
				return nil, fmt.Errorf("pinout config: board %s: pin %s: direction must be 'in' or 'out'",
					board.Version, pin.Name)
			}

			pin.mask = 1 << pin.Pin
		}
	}

	return config, nil
}

func (c *ConfigFile) findBoard(version string) (*BoardConfig, error) {
	for idx := range c.Boards {
		if c.Boards[idx].Version == version {
			return &c.Boards[idx], nil
		}
	}

	return nil, fmt.Errorf("no pinout defined for board version %q", version)
}

func (b *BoardConfig) pin(name string) (*PinConfig, bool) {
	for idx := range b.Pins {
		if b.Pins[idx].Name == name {
			return &b.Pins[idx], true
		}
	}

	return nil, false
}

// directionMasks returns, per port, the byte with a high bit for every
// output pin.
func (b *BoardConfig) directionMasks() [portCount]uint8 {
	var masks [portCount]uint8
	for _, pin := range b.Pins {
		if pin.Direction == "out" {
			masks[pin.Port] |= pin.mask
		}
	}
	return masks
}

// defaultLevels returns, per port, the byte holding every pin's default
// output level.
func (b *BoardConfig) defaultLevels() [portCount]uint8 {
	var levels [portCount]uint8
	for _, pin := range b.Pins {
		if pin.Default != 0 {
			levels[pin.Port] |= pin.mask
		}
	}
	return levels
}
