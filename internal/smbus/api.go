// Package smbus provides byte-data register access to I2C devices in the
// SMBus style used by the CAN switcher board peripherals.
package smbus

// ControllerInterface abstracts access to the host's I2C peripherals so
// that drivers can run against real hardware or a simulated bus.
type ControllerInterface interface {
	Open(bus int) (DeviceInterface, error)
}

// DeviceInterface is an open handle on a single I2C bus. Every transfer
// carries the slave address; no addressing state is retained between calls.
type DeviceInterface interface {
	Close() error

	ReadByteData(addr uint8, reg uint8) (uint8, error)

	WriteByteData(addr uint8, reg uint8, value uint8) error
}
