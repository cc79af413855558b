package bms

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// skipUnlockPrefix marks devices that accept commands without a password.
const skipUnlockPrefix = "TBA-"

// ErrInvalidDeviceName is returned when the password cannot be derived from
// the device name.
var ErrInvalidDeviceName = errors.New("bms: device name has no hex password suffix")

// SkipsUnlock reports whether name identifies a device that needs no
// unlock handshake.
func SkipsUnlock(name string) bool {
	return strings.HasPrefix(name, skipUnlockPrefix)
}

// UnlockPassword derives the two password bytes from the last four
// characters of name read as hexadecimal.
func UnlockPassword(name string) ([2]byte, error) {
	if len(name) < 4 {
		return [2]byte{}, fmt.Errorf("%w: %q", ErrInvalidDeviceName, name)
	}
	v, err := strconv.ParseUint(name[len(name)-4:], 16, 16)
	if err != nil {
		return [2]byte{}, fmt.Errorf("%w: %q", ErrInvalidDeviceName, name)
	}
	return [2]byte{byte(v >> 8), byte(v)}, nil
}
