package core

import (
	"bytes"
	"encoding/hex"
	"fmt"
)

// SLE4442 main memory is 256 bytes. Addresses below 0x20 hold the
// protected area and manufacturer data and are never written or read here.
const (
	memorySize = 256

	// MainMemoryAddress is where the card payload is written.
	MainMemoryAddress = 0x20

	// PayloadMagic is the first byte of every payload this bridge writes.
	PayloadMagic byte = 0x1D

	CardTypeSLE4442 = "SLE4442"
	CardTypeUnknown = "unknown"
)

var (
	// verifyPSCCommand presents the factory security code FF FF FF.
	verifyPSCCommand = []byte{0xFF, 0x20, 0x00, 0x00, 0x03, 0xFF, 0xFF, 0xFF}

	// getDataCommand is the generic PC/SC GET DATA (UID) probe, harmless on any card.
	getDataCommand = []byte{0xFF, 0xCA, 0x00, 0x00, 0x00}

	updateBinaryHeader = []byte{0xFF, 0xD0, 0x00}
	readBinaryHeader   = []byte{0xFF, 0xB0, 0x00}

	sle4442ATRPrefix = []byte{0xA2, 0x13, 0x10, 0x91}
)

// VerifyPSCCommand returns the security code verification command.
func VerifyPSCCommand() []byte {
	return bytes.Clone(verifyPSCCommand)
}

// UpdateBinaryCommand builds FF D0 00 <address> <len> <data>.
func UpdateBinaryCommand(address int, data []byte) ([]byte, error) {
	if err := CheckMemoryRange(address, len(data)); err != nil {
		return nil, err
	}
	cmd := make([]byte, 0, len(updateBinaryHeader)+2+len(data))
	cmd = append(cmd, updateBinaryHeader...)
	cmd = append(cmd, byte(address), byte(len(data)))
	cmd = append(cmd, data...)
	return cmd, nil
}

// ReadBinaryCommand builds FF B0 00 <address> <length>.
func ReadBinaryCommand(address, length int) ([]byte, error) {
	if err := CheckMemoryRange(address, length); err != nil {
		return nil, err
	}
	cmd := make([]byte, 0, len(readBinaryHeader)+2)
	cmd = append(cmd, readBinaryHeader...)
	cmd = append(cmd, byte(address), byte(length))
	return cmd, nil
}

// CheckMemoryRange rejects ranges that touch protected memory or run past the end.
func CheckMemoryRange(address, length int) error {
	if address < MainMemoryAddress {
		return fmt.Errorf("address 0x%02X is in protected memory (minimum 0x%02X)", address, MainMemoryAddress)
	}
	if length < 1 || length > 0xFF {
		return fmt.Errorf("length %d out of range (1-255)", length)
	}
	if address+length > memorySize {
		return fmt.Errorf("range 0x%02X+%d exceeds %d-byte memory", address, length, memorySize)
	}
	return nil
}

// CardTypeFromATR identifies SLE4442 cards by their ATR prefix.
func CardTypeFromATR(atr []byte) string {
	if bytes.HasPrefix(atr, sle4442ATRPrefix) {
		return CardTypeSLE4442
	}
	return CardTypeUnknown
}

// formatATR renders an ATR as spaced uppercase hex, "A2 13 10 91".
func formatATR(atr []byte) string {
	if len(atr) == 0 {
		return ""
	}
	s := hex.EncodeToString(atr)
	var b bytes.Buffer
	for i := 0; i < len(s); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(s[i : i+2])
	}
	return string(bytes.ToUpper(b.Bytes()))
}
