package dif

import "testing"

func TestCRC16T10DIFTestVector(t *testing.T) {
	got := CRC16T10DIF(0, []byte("123456789"))
	if got != 0xD0DB {
		t.Fatalf("got %#04x want 0xd0db", got)
	}
}

func TestCRC16T10DIFSeedableComposition(t *testing.T) {
	a := []byte("hello, ")
	b := []byte("world!!!")
	ab := append(append([]byte{}, a...), b...)

	composed := CRC16T10DIF(CRC16T10DIF(0, a), b)
	whole := CRC16T10DIF(0, ab)

	if composed != whole {
		t.Fatalf("composed=%#04x whole=%#04x", composed, whole)
	}
}
