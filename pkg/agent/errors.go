package agent

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrHostContract matches every HostContractError.
	ErrHostContract = errors.New("host does not satisfy the interceptor contract")
	// ErrFilterFailed wraps filter failures surfaced in strict mode.
	ErrFilterFailed = errors.New("privacy filter failed")
)

// HostContractError lists the hooks a host failed to provide.
type HostContractError struct {
	Missing []string
}

func (e *HostContractError) Error() string {
	return fmt.Sprintf("%v: missing %s", ErrHostContract, strings.Join(e.Missing, ", "))
}

func (e *HostContractError) Is(target error) bool { return target == ErrHostContract }
