package expander

import "fmt"

// ReadbackError indicates the expander's pins did not settle at the value
// just written to the output register.
type ReadbackError struct {
	Port int
	Want uint8
	Got  uint8
}

func (e *ReadbackError) Error() string {
	return fmt.Sprintf("port %d readback mismatch: wrote 0x%02x, read 0x%02x", e.Port, e.Want, e.Got)
}

// ChannelRangeError indicates a CAN channel outside 1-8.
type ChannelRangeError struct {
	Channel int
}

func (e *ChannelRangeError) Error() string {
	return fmt.Sprintf("CAN switcher channel %d is not available, valid channels are 1-8", e.Channel)
}

// RelayRangeError indicates a relay index outside 1-6.
type RelayRangeError struct {
	Relay int
}

func (e *RelayRangeError) Error() string {
	return fmt.Sprintf("relay %d is not available, valid relays are 1-6", e.Relay)
}
