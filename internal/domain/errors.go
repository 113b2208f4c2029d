package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrConfig marks errors that must abort a run before it produces output:
	// mismatched tile resolutions, unresolvable spatial references, missing
	// required layers or an inconsistent repair calendar.
	ErrConfig = errors.New("configuration error")

	// ErrDateData marks recoverable per-date errors. The batch skips the date.
	ErrDateData = errors.New("date data error")
)

// ConfigErrorf formats an error wrapping ErrConfig.
func ConfigErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// DateDataErrorf formats an error wrapping ErrDateData.
func DateDataErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDateData, fmt.Sprintf(format, args...))
}

// WrapDateData marks err as a recoverable per-date error, keeping err in the chain.
func WrapDateData(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrDateData, fmt.Sprintf(format, args...), err)
}
