package common

import "errors"

// ErrModulePaused is returned by Guard when the module's kill switch is set.
var ErrModulePaused = errors.New("module paused")

// PauseView exposes the governance pause flags to the native engines.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects the call when the named module is paused. A nil view or empty
// module name disables the check.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
