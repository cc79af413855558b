package link

// State is the link lifecycle state.
type State int

const (
	StateIdle State = iota
	StateScanning
	StateConnecting
	StateServiceDiscovery
	StateCharacteristicDiscovery
	StateAuthenticating
	StateActive
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateServiceDiscovery:
		return "service_discovery"
	case StateCharacteristicDiscovery:
		return "characteristic_discovery"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// attempting reports whether s is between a connect request and a
// successful unlock.
func (s State) attempting() bool {
	switch s {
	case StateConnecting, StateServiceDiscovery, StateCharacteristicDiscovery, StateAuthenticating:
		return true
	}
	return false
}
