// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package metrics

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"time"
)

// PerformanceMetric is one numeric sample.
//
// Value may be NaN or infinite. In JSON those are written as the strings
// "NaN", "+Inf" and "-Inf".
type PerformanceMetric struct {
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit"`
	Timestamp time.Time         `json:"timestamp"`
	Tags      map[string]string `json:"tags"`
	Operation string            `json:"operation,omitempty"`
}

func (m PerformanceMetric) clone() PerformanceMetric {
	m.Tags = maps.Clone(m.Tags)
	return m
}

// MarshalJSON encodes non-finite values as strings.
func (m PerformanceMetric) MarshalJSON() ([]byte, error) {
	type alias PerformanceMetric
	var value any = m.Value
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		value = strconv.FormatFloat(m.Value, 'g', -1, 64)
	}
	return json.Marshal(struct {
		alias
		Value any `json:"value"`
	}{alias: alias(m), Value: value})
}

// UnmarshalJSON accepts both numeric and string-encoded values.
func (m *PerformanceMetric) UnmarshalJSON(data []byte) error {
	type alias PerformanceMetric
	aux := struct {
		*alias
		Value any `json:"value"`
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch v := aux.Value.(type) {
	case float64:
		m.Value = v
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("metric %q: invalid value %q: %w", m.Name, v, err)
		}
		m.Value = f
	case nil:
		m.Value = 0
	default:
		return fmt.Errorf("metric %q: unsupported value type %T", m.Name, v)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
