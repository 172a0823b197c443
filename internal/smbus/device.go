package smbus

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// I2C_SLAVE from linux/i2c-dev.h; x/sys/unix does not export the i2c-dev
// ioctl numbers.
const i2cSlave = 0x0703

type Controller struct{}

func NewController() ControllerInterface {
	return &Controller{}
}

func (Controller) Open(bus int) (DeviceInterface, error) {
	path := fmt.Sprintf("/dev/i2c-%d", bus)
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return nil, &BusError{Op: "open", Bus: bus, Err: fmt.Errorf("%s: %w", path, err)}
	}

	return &Device{fd: fd, bus: bus}, nil
}

// Device drives a Linux i2c-dev character device. The slave address is
// latched with I2C_SLAVE before each transfer.
type Device struct {
	fd  int
	bus int
}

func (d *Device) Close() error {
	return unix.Close(d.fd)
}

func (d *Device) setSlave(addr uint8) error {
	return unix.IoctlSetInt(d.fd, i2cSlave, int(addr))
}

func (d *Device) ReadByteData(addr uint8, reg uint8) (uint8, error) {
	if err := d.setSlave(addr); err != nil {
		return 0, &BusError{Op: "read", Bus: d.bus, Addr: addr, Err: err}
	}

	if _, err := unix.Write(d.fd, []byte{reg}); err != nil {
		return 0, &BusError{Op: "read", Bus: d.bus, Addr: addr, Err: err}
	}

	buf := make([]byte, 1)
	if _, err := unix.Read(d.fd, buf); err != nil {
		return 0, &BusError{Op: "read", Bus: d.bus, Addr: addr, Err: err}
	}

	return buf[0], nil
}

func (d *Device) WriteByteData(addr uint8, reg uint8, value uint8) error {
	if err := d.setSlave(addr); err != nil {
		return &BusError{Op: "write", Bus: d.bus, Addr: addr, Err: err}
	}

	if _, err := unix.Write(d.fd, []byte{reg, value}); err != nil {
		return &BusError{Op: "write", Bus: d.bus, Addr: addr, Err: err}
	}

	return nil
}
