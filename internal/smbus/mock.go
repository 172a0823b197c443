package smbus

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Transfer is one recorded bus transaction.
type Transfer struct {
	Addr  uint8
	Reg   uint8
	Value uint8
	Write bool
}

// MockController simulates a single PCA9539A-style expander on the bus.
// Register values follow the chip's power-on state: outputs high,
// everything configured as input, no polarity inversion. Reads of the
// input registers mirror the output registers, as if every pin were
// driven by its own output latch.
type MockController struct {
	mu        sync.Mutex
	registers map[uint8]uint8
	transfers []Transfer

	// WriteDelay stretches each write so concurrent callers are likely
	// to collide if nothing serializes them.
	WriteDelay time.Duration

	// FailWrites makes every write fail, emulating a NACKing device.
	FailWrites bool

	// Sticky marks register bits that ignore writes, emulating pins
	// stuck at their current level. Keyed by register.
	Sticky map[uint8]uint8

	inflight   int32
	overlapped int32
	opens      int32
}

func NewMockController() *MockController {
	return &MockController{
		registers: map[uint8]uint8{
			0x00: 0xFF, 0x01: 0xFF, // input ports
			0x02: 0xFF, 0x03: 0xFF, // output ports
			0x04: 0x00, 0x05: 0x00, // polarity inversion
			0x06: 0xFF, 0x07: 0xFF, // configuration
		},
	}
}

func (m *MockController) Open(bus int) (DeviceInterface, error) {
	atomic.AddInt32(&m.opens, 1)
	return &mockDevice{ctrl: m}, nil
}

// Writes returns the recorded write transactions.
func (m *MockController) Writes() []Transfer {
	m.mu.Lock()
	defer m.mu.Unlock()

	writes := []Transfer{}
	for _, t := range m.transfers {
		if t.Write {
			writes = append(writes, t)
		}
	}
	return writes
}

// Register returns the current value of a register.
func (m *MockController) Register(reg uint8) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registers[reg]
}

// Overlapped reports whether two transfers were ever in flight at once.
func (m *MockController) Overlapped() bool {
	return atomic.LoadInt32(&m.overlapped) != 0
}

func (m *MockController) Opens() int {
	return int(atomic.LoadInt32(&m.opens))
}

func (m *MockController) enter() {
	if atomic.AddInt32(&m.inflight, 1) > 1 {
		atomic.StoreInt32(&m.overlapped, 1)
	}
}

func (m *MockController) exit() {
	atomic.AddInt32(&m.inflight, -1)
}

type mockDevice struct {
	ctrl *MockController
}

func (d *mockDevice) Close() error { return nil }

func (d *mockDevice) ReadByteData(addr uint8, reg uint8) (uint8, error) {
	m := d.ctrl
	m.enter()
	defer m.exit()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Input port registers reflect the output latches.
	lookup := reg
	if reg == 0x00 || reg == 0x01 {
		lookup = reg + 0x02
	}

	value, ok := m.registers[lookup]
	if !ok {
		return 0, &BusError{Op: "read", Addr: addr, Err: fmt.Errorf("no such register 0x%02x", reg)}
	}

	m.transfers = append(m.transfers, Transfer{Addr: addr, Reg: reg, Value: value})
	return value, nil
}

func (d *mockDevice) WriteByteData(addr uint8, reg uint8, value uint8) error {
	m := d.ctrl
	m.enter()
	defer m.exit()

	if m.WriteDelay > 0 {
		time.Sleep(m.WriteDelay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailWrites {
		return &BusError{Op: "write", Addr: addr, Err: fmt.Errorf("device nacked register 0x%02x", reg)}
	}

	if _, ok := m.registers[reg]; !ok {
		return &BusError{Op: "write", Addr: addr, Err: fmt.Errorf("no such register 0x%02x", reg)}
	}

	if mask := m.Sticky[reg]; mask != 0 {
		value = value&^mask | m.registers[reg]&mask
	}

	m.registers[reg] = value
	m.transfers = append(m.transfers, Transfer{Addr: addr, Reg: reg, Value: value, Write: true})
	return nil
}
