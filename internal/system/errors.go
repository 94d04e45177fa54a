package system

import (
	"errors"
	"fmt"
)

// ErrNotReady is wrapped by every ConfigurationError.
var ErrNotReady = errors.New("system not ready")

// ConfigurationError reports a missing collaborator or instrument at run start.
type ConfigurationError struct {
	System  string
	Missing string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("system %q: missing %s", e.System, e.Missing)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrNotReady
}
