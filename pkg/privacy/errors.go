package privacy

import (
	"errors"
	"fmt"
)

var (
	// ErrPatternCompile matches every PatternCompileError.
	ErrPatternCompile = errors.New("pattern compile failed")
	// ErrConfigIO matches every ConfigIOError.
	ErrConfigIO = errors.New("privacy config io failed")
)

// PatternCompileError reports a pattern whose regex or replacement template
// is invalid. The pattern is skipped for the application that hit it.
type PatternCompileError struct {
	Name    string
	Pattern string
	Err     error
}

func (e *PatternCompileError) Error() string {
	return fmt.Sprintf("pattern %q (%s): %v", e.Name, e.Pattern, e.Err)
}

func (e *PatternCompileError) Unwrap() error { return e.Err }

func (e *PatternCompileError) Is(target error) bool { return target == ErrPatternCompile }

// ConfigIOError reports a failed load or save of the config document.
type ConfigIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *ConfigIOError) Error() string {
	return fmt.Sprintf("privacy config %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *ConfigIOError) Unwrap() error { return e.Err }

func (e *ConfigIOError) Is(target error) bool { return target == ErrConfigIO }
