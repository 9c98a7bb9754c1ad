package twofa

// State is the controller's position in the enrollment lifecycle.
type State uint8

const (
	// StateDisabled means two-factor auth is off and no enrollment is in progress.
	StateDisabled State = iota

	// StateSettingUp means an enrollment session is open; the user has a manual
	// entry key and backup codes and still needs to verify a code.
	StateSettingUp

	// StateEnabled means two-factor auth is on for the account.
	StateEnabled

	// StateDisabling means the user has opened the password confirmation step
	// to turn two-factor auth off.
	StateDisabling
)

// String returns a short human readable name for the state.
func (s State) String() string {
	switch s {
	case StateDisabled:
		return "disabled"
	case StateSettingUp:
		return "setting-up"
	case StateEnabled:
		return "enabled"
	case StateDisabling:
		return "disabling"
	}
	return "unknown"
}
