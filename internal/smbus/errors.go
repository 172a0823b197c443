package smbus

import "fmt"

// BusError reports a failed bus transaction with enough context for an
// operator to tell a missing device apart from a wiring or permission fault.
type BusError struct {
	Op   string
	Bus  int
	Addr uint8
	Err  error
}

func (e *BusError) Error() string {
	if e.Addr == 0 {
		return fmt.Sprintf("smbus %s: bus %d: %v", e.Op, e.Bus, e.Err)
	}
	return fmt.Sprintf("smbus %s: bus %d addr 0x%02x: %v", e.Op, e.Bus, e.Addr, e.Err)
}

func (e *BusError) Unwrap() error { return e.Err }
