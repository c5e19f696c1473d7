// Package crc implements the 16-bit frame checksum used on the relay wire.
//
// The algorithm starts from 0xFFFF, folds each byte into the low byte of the
// register and shifts right eight times, XORing 0xA001 whenever the bit
// shifted out is set. No final XOR is applied. This is the CRC16_MODBUS
// parameter set of github.com/sigurn/crc16.
package crc

import (
	"github.com/sigurn/crc16"
)

// Size is the number of trailer bytes carrying the checksum.
const Size = 2

var table = crc16.MakeTable(crc16.CRC16_MODBUS)

// Checksum computes the frame CRC over data.
func Checksum(data []byte) uint16 {
	return crc16.Checksum(data, table)
}

// Verify reports whether data checksums to want.
func Verify(data []byte, want uint16) bool {
	return Checksum(data) == want
}

// Init returns the initial register for a streaming computation.
func Init() uint16 {
	return crc16.Init(table)
}

// Update folds data into a running register obtained from Init.
func Update(crc uint16, data []byte) uint16 {
	return crc16.Update(crc, data, table)
}

// Complete finalizes a running register into the checksum value.
func Complete(crc uint16) uint16 {
	return crc16.Complete(crc, table)
}
