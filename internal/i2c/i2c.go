// Package i2c provides register access to I2C devices through one of two
// backends: the Linux /dev/i2c-* character device ("dev") or periph.io
// ("periph").
package i2c

import (
	"fmt"
	"io"
)

const (
	BackendDev    = "dev"
	BackendPeriph = "periph"
)

// RegIO is register-level access to a single device. Sensor drivers depend
// only on this.
type RegIO interface {
	ReadRegU8(reg byte) (byte, error)
	ReadReg(reg byte, dst []byte) error
	WriteReg(reg, value byte) error
}

// OpenDev opens bus with the named backend and returns the device at addr
// along with the bus closer.
func OpenDev(backend, bus string, addr uint16) (RegIO, io.Closer, error) {
	switch backend {
	case BackendDev, "":
		b, err := Open(bus)
		if err != nil {
			return nil, nil, err
		}
		return b.Dev(addr), b, nil
	case BackendPeriph:
		b, err := OpenPeriph(bus)
		if err != nil {
			return nil, nil, err
		}
		return b.Dev(addr), b, nil
	default:
		return nil, nil, fmt.Errorf("i2c: unknown backend %q", backend)
	}
}
