package i2c

import (
	"testing"

	"periph.io/x/conn/v3/i2c/i2ctest"
)

func TestPeriphDev_RegisterAccess(t *testing.T) {
	pb := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			{Addr: 0x68, W: []byte{0x75}, R: []byte{0x68}},
			{Addr: 0x68, W: []byte{0x6B, 0x01}},
			{Addr: 0x68, W: []byte{0x3B}, R: []byte{0x40, 0x00, 0xC0, 0x00}},
		},
		DontPanic: true,
	}
	var d RegIO = newPeriphDev(pb, 0x68)

	who, err := d.ReadRegU8(0x75)
	if err != nil {
		t.Fatalf("ReadRegU8: %v", err)
	}
	if who != 0x68 {
		t.Fatalf("who=0x%02X want 0x68", who)
	}
	if err := d.WriteReg(0x6B, 0x01); err != nil {
		t.Fatalf("WriteReg: %v", err)
	}
	buf := make([]byte, 4)
	if err := d.ReadReg(0x3B, buf); err != nil {
		t.Fatalf("ReadReg: %v", err)
	}
	if buf[0] != 0x40 || buf[2] != 0xC0 {
		t.Fatalf("buf=%x", buf)
	}
	if err := pb.Close(); err != nil {
		t.Fatalf("playback not fully consumed: %v", err)
	}
}

func TestPeriphDev_UnexpectedTransferFails(t *testing.T) {
	pb := &i2ctest.Playback{DontPanic: true}
	d := newPeriphDev(pb, 0x68)
	if err := d.WriteReg(0x6B, 0x00); err == nil {
		t.Fatalf("expected error for unscripted transfer")
	}
}

func TestOpenDev_UnknownBackend(t *testing.T) {
	if _, _, err := OpenDev("spi", "/dev/i2c-1", 0x68); err == nil {
		t.Fatalf("expected error")
	}
}
