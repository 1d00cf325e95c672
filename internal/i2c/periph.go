package i2c

import (
	"fmt"

	pi2c "periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// PeriphBus is an I2C bus opened through the periph.io registry. Bus names
// follow periph ("1", "I2C1", "/dev/i2c-1"); an empty name selects the first
// bus found.
type PeriphBus struct {
	bus  pi2c.BusCloser
	name string
}

func OpenPeriph(name string) (*PeriphBus, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("i2c: periph host init: %w", err)
	}
	b, err := i2creg.Open(name)
	if err != nil {
		return nil, fmt.Errorf("i2c: periph open %q: %w", name, err)
	}
	return &PeriphBus{bus: b, name: name}, nil
}

func (b *PeriphBus) Close() error {
	if b == nil || b.bus == nil {
		return nil
	}
	err := b.bus.Close()
	b.bus = nil
	return err
}

func (b *PeriphBus) Dev(addr uint16) *PeriphDev {
	if b == nil {
		return nil
	}
	return newPeriphDev(b.bus, addr)
}

// PeriphDev adapts a periph i2c.Dev to RegIO.
type PeriphDev struct {
	dev *pi2c.Dev
}

func newPeriphDev(bus pi2c.Bus, addr uint16) *PeriphDev {
	return &PeriphDev{dev: &pi2c.Dev{Bus: bus, Addr: addr}}
}

func (d *PeriphDev) ReadReg(reg byte, dst []byte) error {
	if err := d.dev.Tx([]byte{reg}, dst); err != nil {
		return fmt.Errorf("i2c: addr 0x%02X read reg 0x%02X: %w", d.dev.Addr, reg, err)
	}
	return nil
}

func (d *PeriphDev) ReadRegU8(reg byte) (byte, error) {
	var b [1]byte
	if err := d.ReadReg(reg, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func (d *PeriphDev) WriteReg(reg, value byte) error {
	if err := d.dev.Tx([]byte{reg, value}, nil); err != nil {
		return fmt.Errorf("i2c: addr 0x%02X write reg 0x%02X: %w", d.dev.Addr, reg, err)
	}
	return nil
}
