package core

import (
	"encoding/hex"
	"fmt"
)

// StatusWord is the two-byte trailer (SW1 SW2) of every card response.
type StatusWord uint16

// SWSuccess is the only status treated as success. 61XX and warnings are failures here.
const SWSuccess StatusWord = 0x9000

// NewStatusWord builds a StatusWord from its two bytes.
func NewStatusWord(sw1, sw2 byte) StatusWord {
	return StatusWord(uint16(sw1)<<8 | uint16(sw2))
}

func (sw StatusWord) SW1() byte { return byte(sw >> 8) }
func (sw StatusWord) SW2() byte { return byte(sw) }

// IsSuccess reports whether the status is exactly 90 00.
func (sw StatusWord) IsSuccess() bool {
	return sw == SWSuccess
}

// String formats the status as "SW1 SW2" in uppercase hex, e.g. "6A 82".
func (sw StatusWord) String() string {
	return fmt.Sprintf("%02X %02X", sw.SW1(), sw.SW2())
}

// Meaning describes the status as returned by PC/SC readers driving
// SLE4442 memory cards. Unknown values get an ISO 7816 category.
func (sw StatusWord) Meaning() string {
	if sw.SW1() == 0x63 && sw.SW2()&0xF0 == 0xC0 {
		return fmt.Sprintf("wrong security code, %d attempts remaining", sw.SW2()&0x0F)
	}
	if m, ok := statusMeanings[sw]; ok {
		return m
	}
	switch sw1 := sw.SW1(); {
	case sw1 == 0x62 || sw1 == 0x63:
		return "warning"
	case sw1 >= 0x64 && sw1 <= 0x6F:
		return "execution error"
	default:
		return "unknown status"
	}
}

var statusMeanings = map[StatusWord]string{
	0x9000: "success",
	0x6281: "returned data may be corrupted",
	0x6300: "verification failed",
	0x6581: "memory failure",
	0x6700: "wrong length",
	0x6982: "security status not satisfied",
	0x6983: "card locked, security code blocked",
	0x6A81: "function not supported",
	0x6A82: "address not found",
	0x6B00: "wrong parameters, offset outside memory",
	0x6D00: "instruction not supported",
	0x6E00: "class not supported",
}

// Response is a parsed card response: data plus status word.
type Response struct {
	Data   []byte
	Status StatusWord
}

// ParseResponse splits raw response bytes into data and trailer.
func ParseResponse(raw []byte) (*Response, error) {
	if len(raw) < 2 {
		return nil, fmt.Errorf("response too short: %d bytes", len(raw))
	}
	n := len(raw) - 2
	return &Response{
		Data:   raw[:n],
		Status: NewStatusWord(raw[n], raw[n+1]),
	}, nil
}

// commandHeader returns the hex of the first five bytes of a command for logs.
// Data bytes are left out so card contents and codes never reach the log.
func commandHeader(cmd []byte) string {
	if len(cmd) > 5 {
		cmd = cmd[:5]
	}
	return hex.EncodeToString(cmd)
}
