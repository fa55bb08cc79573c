// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diagnostics

import (
	"maps"
	"regexp"
	"sync"
)

// SanitizationPattern is one redaction rule.
type SanitizationPattern struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// SanitizationStats counts redactions since the Sanitizer was created.
type SanitizationStats struct {
	TotalCalls      int64
	TotalRedactions int64
	ByPattern       map[string]int64
}

// Sanitizer scrubs credentials and personal data from free text before it
// is placed in an AI prompt.
//
// Patterns are applied in order, each to the output of the previous one.
// Safe for concurrent use.
type Sanitizer struct {
	mu       sync.RWMutex
	patterns []SanitizationPattern
	stats    SanitizationStats
}

// NewSanitizer creates a Sanitizer with the given patterns.
func NewSanitizer(patterns []SanitizationPattern) *Sanitizer {
	return &Sanitizer{
		patterns: append([]SanitizationPattern(nil), patterns...),
		stats:    SanitizationStats{ByPattern: make(map[string]int64)},
	}
}

// DefaultPatterns returns the built-in rules.
//
// # Limitations
//
//   - Bare numbers (phone, card and similar) are not matched; they collide
//     with durations, VM IDs and resource counts that are useful in a
//     prompt.
//   - Long hex strings are kept so that trace and span IDs survive.
func DefaultPatterns() []SanitizationPattern {
	return []SanitizationPattern{
		{
			Name:        "private_key",
			Pattern:     regexp.MustCompile(`(?i)-----BEGIN\s+([A-Z]+\s+)?PRIVATE\s+KEY-----[\s\S]*?-----END\s+([A-Z]+\s+)?PRIVATE\s+KEY-----`),
			Replacement: "[PRIVATE_KEY_REDACTED]",
		},
		{
			// PVEAPIToken=user@realm!tokenid=uuid
			Name:        "pve_token",
			Pattern:     regexp.MustCompile(`PVEAPIToken=\S+`),
			Replacement: "PVEAPIToken=[TOKEN_REDACTED]",
		},
		{
			Name:        "pve_ticket",
			Pattern:     regexp.MustCompile(`PVEAuthCookie=[^\s;]+`),
			Replacement: "PVEAuthCookie=[TICKET_REDACTED]",
		},
		{
			Name:        "jwt",
			Pattern:     regexp.MustCompile(`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`),
			Replacement: "[JWT_REDACTED]",
		},
		{
			Name:        "bearer",
			Pattern:     regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`),
			Replacement: "Bearer [TOKEN_REDACTED]",
		},
		{
			Name:        "api_key",
			Pattern:     regexp.MustCompile(`(?i)(api[_\-]?key|secret[_\-]?key|auth[_\-]?token|token[_\-]?secret|password)\s*[=:]\s*["']?([^\s"']{6,})["']?`),
			Replacement: "$1=[KEY_REDACTED]",
		},
		{
			Name:        "url_password",
			Pattern:     regexp.MustCompile(`://[^:/\s]+:([^@\s]+)@`),
			Replacement: "://[USER]:[PASSWORD_REDACTED]@",
		},
		{
			Name:        "aws_key",
			Pattern:     regexp.MustCompile(`(AKIA|ABIA|ACCA|ASIA)[A-Z0-9]{16}`),
			Replacement: "[AWS_KEY_REDACTED]",
		},
		{
			Name:        "email",
			Pattern:     regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`),
			Replacement: "[EMAIL_REDACTED]",
		},
		{
			Name:        "ipv6",
			Pattern:     regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`),
			Replacement: "[IPV6_REDACTED]",
		},
		{
			Name:        "ipv4",
			Pattern:     regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
			Replacement: "[IP_REDACTED]",
		},
		{
			Name:        "user_path_mac",
			Pattern:     regexp.MustCompile(`/Users/[a-zA-Z0-9_\-.]+/`),
			Replacement: "/Users/[USER]/",
		},
		{
			Name:        "home_path_linux",
			Pattern:     regexp.MustCompile(`/home/[a-zA-Z0-9_\-.]+/`),
			Replacement: "/home/[USER]/",
		},
	}
}

// Sanitize applies every pattern to text.
func (s *Sanitizer) Sanitize(text string) string {
	if text == "" {
		return text
	}
	s.mu.RLock()
	patterns := s.patterns
	s.mu.RUnlock()

	counts := make(map[string]int64)
	for _, p := range patterns {
		if n := len(p.Pattern.FindAllStringIndex(text, -1)); n > 0 {
			counts[p.Name] += int64(n)
			text = p.Pattern.ReplaceAllString(text, p.Replacement)
		}
	}

	s.mu.Lock()
	s.stats.TotalCalls++
	for name, n := range counts {
		s.stats.TotalRedactions += n
		s.stats.ByPattern[name] += n
	}
	s.mu.Unlock()
	return text
}

// AddPattern appends a rule, applied after the existing ones.
func (s *Sanitizer) AddPattern(name string, pattern *regexp.Regexp, replacement string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patterns = append(s.patterns[:len(s.patterns):len(s.patterns)], SanitizationPattern{
		Name:        name,
		Pattern:     pattern,
		Replacement: replacement,
	})
}

// PatternCount returns the number of rules.
func (s *Sanitizer) PatternCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.patterns)
}

// Stats returns a copy of the redaction counters.
func (s *Sanitizer) Stats() SanitizationStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := s.stats
	out.ByPattern = maps.Clone(s.stats.ByPattern)
	return out
}
