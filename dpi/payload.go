package dpi

import (
	"errors"
	"fmt"
)

// ErrShortPayload is returned when a payload is shorter than its layout.
var ErrShortPayload = errors.New("dpi: payload too short")

// StrobeBytes returns the number of strobe bytes in a write payload for a bus
// that is width bytes wide.
func StrobeBytes(width int) int {
	return (width + 7) / 8
}

// DecodeWritePayload splits a write payload into the strobe and the data.
//
// A write payload is StrobeBytes(width) bytes of strobe bitmask followed by
// width bytes of data. Bit i%8 of strobe byte i/8 enables data byte i.
func DecodeWritePayload(buf []byte, width int) ([]bool, []byte, error) {
	if width <= 0 {
		return nil, nil, fmt.Errorf("dpi: bus width %d", width)
	}

	nStrobe := StrobeBytes(width)
	if len(buf) < nStrobe+width {
		return nil, nil, fmt.Errorf("%w: %d bytes for a %d-byte bus, need %d",
			ErrShortPayload, len(buf), width, nStrobe+width)
	}

	strobe := make([]bool, width)
	for i := range strobe {
		strobe[i] = buf[i/8]&(1<<(i%8)) != 0
	}

	data := make([]byte, width)
	copy(data, buf[nStrobe:nStrobe+width])

	return strobe, data, nil
}

// EncodeWritePayload builds the payload that DecodeWritePayload decodes.
func EncodeWritePayload(strobe []bool, data []byte) ([]byte, error) {
	if len(strobe) != len(data) {
		return nil, fmt.Errorf("dpi: %d strobe bits for %d data bytes",
			len(strobe), len(data))
	}

	nStrobe := StrobeBytes(len(data))
	buf := make([]byte, nStrobe+len(data))

	for i, s := range strobe {
		if s {
			buf[i/8] |= 1 << (i % 8)
		}
	}

	copy(buf[nStrobe:], data)

	return buf, nil
}

// EncodeReadPayload copies read data into the caller's response buffer.
func EncodeReadPayload(dst, data []byte) error {
	if len(dst) < len(data) {
		return fmt.Errorf("%w: %d bytes for %d bytes of data",
			ErrShortPayload, len(dst), len(data))
	}

	copy(dst, data)

	return nil
}
