package knx

import (
	"fmt"
	"strconv"
	"strings"
)

// GroupAddress is a KNX group address in 3-level notation.
//
// Format: Main/Middle/Sub
//   - Main:   0-31 (5 bits)
//   - Middle: 0-7  (3 bits)
//   - Sub:    0-255 (8 bits)
//
// The three levels pack into 16 bits on the wire.
type GroupAddress struct {
	Main   uint8
	Middle uint8
	Sub    uint8
}

const (
	maxMain   = 31
	maxMiddle = 7
	maxSub    = 255

	gaMainMask   = 0x1F
	gaMiddleMask = 0x07
	gaSubMask    = 0xFF
)

// ParseGroupAddress parses a 3-level group address string such as "1/2/3".
//
// Returns ErrInvalidGroupAddress when the string is not three slash-separated
// decimal fields or any field is out of range.
func ParseGroupAddress(s string) (GroupAddress, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return GroupAddress{}, fmt.Errorf("%w: expected main/middle/sub, got %q", ErrInvalidGroupAddress, s)
	}

	main, err := strconv.ParseUint(parts[0], 10, 8)
	if err != nil || main > maxMain {
		return GroupAddress{}, fmt.Errorf("%w: main must be 0-%d, got %q", ErrInvalidGroupAddress, maxMain, parts[0])
	}

	middle, err := strconv.ParseUint(parts[1], 10, 8)
	if err != nil || middle > maxMiddle {
		return GroupAddress{}, fmt.Errorf("%w: middle must be 0-%d, got %q", ErrInvalidGroupAddress, maxMiddle, parts[1])
	}

	sub, err := strconv.ParseUint(parts[2], 10, 8)
	if err != nil || sub > maxSub {
		return GroupAddress{}, fmt.Errorf("%w: sub must be 0-%d, got %q", ErrInvalidGroupAddress, maxSub, parts[2])
	}

	return GroupAddress{
		Main:   uint8(main),
		Middle: uint8(middle),
		Sub:    uint8(sub),
	}, nil
}

// String returns the address in "main/middle/sub" form.
func (ga GroupAddress) String() string {
	return fmt.Sprintf("%d/%d/%d", ga.Main, ga.Middle, ga.Sub)
}

// ToUint16 packs the address into its 16-bit wire representation.
//
// Layout: MMMMM DDD SSSSSSSS (main 5 bits, middle 3 bits, sub 8 bits).
func (ga GroupAddress) ToUint16() uint16 {
	return uint16(ga.Main)<<11 | uint16(ga.Middle)<<8 | uint16(ga.Sub)
}

// GroupAddressFromUint16 unpacks a 16-bit wire value into a GroupAddress.
func GroupAddressFromUint16(value uint16) GroupAddress {
	// Masks keep each part inside its uint8 range.
	return GroupAddress{
		Main:   uint8((value >> 11) & gaMainMask),
		Middle: uint8((value >> 8) & gaMiddleMask),
		Sub:    uint8(value & gaSubMask),
	}
}

// IsZero reports whether the address is the zero value. Device records use
// the zero address to mean "field not configured".
func (ga GroupAddress) IsZero() bool {
	return ga.Main == 0 && ga.Middle == 0 && ga.Sub == 0
}
