package model

import (
	"errors"
	"strconv"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrLaunchLocked = errors.New("another launch is in progress")
)

// ExitError reports a container which ran to completion with a non-zero
// exit status. The status is propagated to the process exit code.
type ExitError struct {
	Code int64
}

func (e *ExitError) Error() string {
	return "container exited with status " + strconv.FormatInt(e.Code, 10)
}
