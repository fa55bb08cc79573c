// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"reflect"
	"runtime"
	"strings"
	"syscall"
)

// ErrorCategory is the coarse classification attached to every logged error.
type ErrorCategory string

const (
	CategoryConnection     ErrorCategory = "connection"
	CategoryAuthentication ErrorCategory = "authentication"
	CategoryTerraform      ErrorCategory = "terraform"
	CategoryAnsible        ErrorCategory = "ansible"
	CategoryProxmox        ErrorCategory = "proxmox"
	CategoryFilesystem     ErrorCategory = "filesystem"
	CategoryValidation     ErrorCategory = "validation"
	CategoryUnknown        ErrorCategory = "unknown"
)

type categoryRule struct {
	category ErrorCategory
	keywords []string
}

// categoryRules is evaluated top to bottom and the first rule with a
// matching keyword wins. Keywords are lowercase. Numeric keywords only
// match as whole numbers, so VM 4013 is not a 401.
var categoryRules = []categoryRule{
	{CategoryConnection, []string{
		"connection", "timeout", "timed out", "deadline exceeded",
		"econnrefused", "econnreset", "etimedout", "ehostunreach",
		"network", "dial tcp", "no route to host",
	}},
	{CategoryAuthentication, []string{
		"unauthorized", "401", "authentication", "forbidden", "403",
		"invalid token", "invalid credentials",
	}},
	{CategoryTerraform, []string{"terraform"}},
	{CategoryAnsible, []string{"ansible"}},
	{CategoryProxmox, []string{"proxmox", "pve"}},
	{CategoryFilesystem, []string{
		"enoent", "eacces", "eexist", "enotdir", "eisdir", "eperm",
		"enospc", "emfile", "no such file", "permission denied",
		"file exists", "not a directory", "is a directory",
	}},
	{CategoryValidation, []string{"validation", "invalid"}},
}

// CategorizeError classifies an error from its message and code.
//
// # Description
//
// Matching is a case-insensitive substring search over the message and the
// code, checked against an ordered rule table. An error mentioning several
// categories gets the earliest one, so "terraform connection timeout" is a
// connection error.
//
// # Examples
//
//	CategorizeError("connect ECONNREFUSED 10.0.0.5:8006", "")  // connection
//	CategorizeError("open state.db", "ENOENT")                 // filesystem
//	CategorizeError("something odd", "")                       // unknown
func CategorizeError(message, code string) ErrorCategory {
	haystack := strings.ToLower(message + " " + code)
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if containsKeyword(haystack, kw) {
				return rule.category
			}
		}
	}
	return CategoryUnknown
}

func containsKeyword(haystack, kw string) bool {
	if !isDigits(kw) {
		return strings.Contains(haystack, kw)
	}
	for offset := 0; ; {
		i := strings.Index(haystack[offset:], kw)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(kw)
		if !isAlnumAt(haystack, start-1) && !isAlnumAt(haystack, end) {
			return true
		}
		offset = start + 1
	}
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// isAlnumAt reports whether s[i] is an ASCII letter or digit. Out of range
// positions are not.
func isAlnumAt(s string, i int) bool {
	if i < 0 || i >= len(s) {
		return false
	}
	c := s[i]
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'z'
}

// NormalizeError converts err into the ErrorInfo stored on log records.
//
// # Inputs
//
//   - err: The error to normalize. Must be non-nil.
//   - recoveryActions: Operator-facing hints, copied verbatim.
//
// # Limitations
//
//   - Stack is the call stack of the logging site, not of the error's
//     origin, unless err itself formats a stack under "%+v".
func NormalizeError(err error, recoveryActions ...string) *ErrorInfo {
	code := ErrorCode(err)
	info := &ErrorInfo{
		Type:     ErrorTypeName(err),
		Message:  err.Error(),
		Stack:    errorStack(err, 2),
		Code:     code,
		Category: CategorizeError(err.Error(), code),
	}
	if len(recoveryActions) > 0 {
		info.RecoveryActions = append([]string(nil), recoveryActions...)
	}
	return info
}

// coder is satisfied by errors that carry their own machine-readable code.
type coder interface {
	Code() string
}

var errnoNames = map[syscall.Errno]string{
	syscall.ENOENT:       "ENOENT",
	syscall.EACCES:       "EACCES",
	syscall.EEXIST:       "EEXIST",
	syscall.ENOTDIR:      "ENOTDIR",
	syscall.EISDIR:       "EISDIR",
	syscall.EPERM:        "EPERM",
	syscall.ENOSPC:       "ENOSPC",
	syscall.EMFILE:       "EMFILE",
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
}

// ErrorCode extracts a symbolic code from err, or "" when none applies.
//
// Explicit Code() methods take precedence, then errno values found anywhere
// in the wrap chain, then well-known sentinel errors.
func ErrorCode(err error) string {
	var c coder
	if errors.As(err, &c) {
		if code := c.Code(); code != "" {
			return code
		}
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		if name, ok := errnoNames[errno]; ok {
			return name
		}
	}

	switch {
	case errors.Is(err, fs.ErrNotExist):
		return "ENOENT"
	case errors.Is(err, fs.ErrPermission):
		return "EACCES"
	case errors.Is(err, fs.ErrExist):
		return "EEXIST"
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, os.ErrDeadlineExceeded):
		return "ETIMEDOUT"
	}
	return ""
}

// ErrorTypeName returns the dynamic type name of err without pointer or
// package qualifiers, e.g. "errorString" for errors.New values.
func ErrorTypeName(err error) string {
	t := reflect.TypeOf(err)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.String()
}

const maxStackFrames = 32

// errorStack prefers a stack the error renders itself and falls back to the
// caller's stack.
func errorStack(err error, skip int) string {
	if verbose := fmt.Sprintf("%+v", err); verbose != err.Error() && strings.Contains(verbose, "\n") {
		return verbose
	}

	pcs := make([]uintptr, maxStackFrames)
	n := runtime.Callers(skip+1, pcs)
	frames := runtime.CallersFrames(pcs[:n])

	var b strings.Builder
	for {
		frame, more := frames.Next()
		fmt.Fprintf(&b, "%s\n\t%s:%d\n", frame.Function, frame.File, frame.Line)
		if !more {
			break
		}
	}
	return b.String()
}
