// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
)

// Exit codes.
const (
	exitOK        = 0
	exitFailure   = 1
	exitUnhealthy = 2
)

// exitError carries a process exit code out of a command.
type exitError struct {
	// Code is the process exit code.
	Code int

	// Reason is a short description for the final "Error:" line.
	Reason string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

func (e *exitError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Wrapped)
	}
	return e.Reason
}

func (e *exitError) Unwrap() error {
	return e.Wrapped
}

// errUnhealthy reports that at least one health check is in error.
func errUnhealthy(failed int) error {
	return &exitError{
		Code:   exitUnhealthy,
		Reason: fmt.Sprintf("%d health check(s) failed", failed),
	}
}

// exitCode maps err to a process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return exitFailure
}
