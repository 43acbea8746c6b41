package core

import (
	"strings"
	"unicode"
)

// Character limits for each payload field. They count characters, not
// bytes, so a payload with multi-byte names is longer than 53 bytes.
const (
	MaxCardNumberChars = 18
	MaxExpiryChars     = 4
	MaxHolderNameChars = 30
)

// Payload is the cleaned content written to card memory.
type Payload struct {
	CardNumber string
	Expiry     string
	HolderName string
}

// NewPayload cleans raw user input. It never fails:
//   - card number keeps letters and digits, first 18;
//   - expiry drops every '/', first 4, no other validation;
//   - holder name is kept verbatim, first 30.
func NewPayload(cardNumber, holderName, expiryDate string) Payload {
	return Payload{
		CardNumber: truncate(alphanumeric(cardNumber), MaxCardNumberChars),
		Expiry:     truncate(strings.ReplaceAll(expiryDate, "/", ""), MaxExpiryChars),
		HolderName: truncate(holderName, MaxHolderNameChars),
	}
}

// Bytes lays the payload out as magic byte, card number, expiry, holder name.
// There is no separator or terminator; the APDU length byte carries the size.
func (p Payload) Bytes() []byte {
	out := make([]byte, 0, 1+len(p.CardNumber)+len(p.Expiry)+len(p.HolderName))
	out = append(out, PayloadMagic)
	out = append(out, p.CardNumber...)
	out = append(out, p.Expiry...)
	out = append(out, p.HolderName...)
	return out
}

// EncodePayload cleans the three fields and returns the bytes to write.
func EncodePayload(cardNumber, holderName, expiryDate string) []byte {
	return NewPayload(cardNumber, holderName, expiryDate).Bytes()
}

func alphanumeric(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// truncate keeps the first n characters of s.
func truncate(s string, n int) string {
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}
