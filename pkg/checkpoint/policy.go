package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

// ExternalStatePolicy decides what a save does when a stage holds external
// mutable state that cannot be part of a checkpoint.
type ExternalStatePolicy string

// Supported policies.
const (
	// PolicyFail rejects the save with ErrFailedPrecondition.
	PolicyFail ExternalStatePolicy = "fail"
	// PolicyWarn saves without the external state and logs a warning per stage.
	PolicyWarn ExternalStatePolicy = "warn"
	// PolicyIgnore saves without the external state silently.
	PolicyIgnore ExternalStatePolicy = "ignore"
)

// ErrUnknownPolicy is returned by ParsePolicy.
var ErrUnknownPolicy = errors.New("unknown external state policy")

// ParsePolicy parses a policy name. The empty string means PolicyFail.
func ParsePolicy(name string) (ExternalStatePolicy, error) {
	switch p := ExternalStatePolicy(strings.ToLower(strings.TrimSpace(name))); p {
	case "":
		return PolicyFail, nil
	case PolicyFail, PolicyWarn, PolicyIgnore:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

func (p ExternalStatePolicy) allowsExternalState() bool {
	return p == PolicyWarn || p == PolicyIgnore
}
