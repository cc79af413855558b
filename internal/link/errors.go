package link

import (
	"errors"

	"github.com/chaz8081/bmslink/internal/bms"
)

// Disconnect reasons.
var (
	ErrConnectTimeout              = errors.New("link: connect timed out")
	ErrAuthTimeout                 = errors.New("link: device never answered the unlock")
	ErrServiceNotFound             = errors.New("link: BMS service not found")
	ErrNoCharacteristics           = errors.New("link: service has no characteristics")
	ErrWriteCharacteristicNotFound = errors.New("link: write characteristic not found")
	ErrLinkLost                    = errors.New("link: link lost")
	ErrConnectFailed               = errors.New("link: connect failed")
	ErrRadioOff                    = errors.New("link: radio powered off")
	ErrRequested                   = errors.New("link: disconnect requested")
	ErrSuperseded                  = errors.New("link: replaced by a new connection")
)

// reasonLabel maps a disconnect reason to a metrics label.
func reasonLabel(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, ErrConnectTimeout):
		return "connect_timeout"
	case errors.Is(err, ErrAuthTimeout):
		return "auth_timeout"
	case errors.Is(err, ErrServiceNotFound):
		return "service_not_found"
	case errors.Is(err, ErrNoCharacteristics):
		return "no_characteristics"
	case errors.Is(err, ErrWriteCharacteristicNotFound):
		return "write_characteristic_not_found"
	case errors.Is(err, ErrLinkLost):
		return "link_lost"
	case errors.Is(err, ErrConnectFailed):
		return "connect_failed"
	case errors.Is(err, ErrRadioOff):
		return "radio_off"
	case errors.Is(err, ErrRequested):
		return "requested"
	case errors.Is(err, ErrSuperseded):
		return "superseded"
	case errors.Is(err, bms.ErrUnlockRejected):
		return "unlock_rejected"
	case errors.Is(err, bms.ErrUnknownOpcode):
		return "unknown_opcode"
	case errors.Is(err, bms.ErrInvalidDeviceName):
		return "invalid_device_name"
	default:
		return "other"
	}
}
