// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package util

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name string
		in   float64
		want string
	}{
		{"bytes", 512, "512 B"},
		{"zero", 0, "0 B"},
		{"kibibyte", 1024, "1.0 KiB"},
		{"fractional", 1536, "1.5 KiB"},
		{"mebibytes", 10 << 20, "10.0 MiB"},
		{"exbibyte", math.Pow(1024, 6), "1.0 EiB"},
		{"yobibytes", math.Pow(1024, 8) * 3, "3.0 YiB"},
		{"beyond largest unit", math.Pow(1024, 9), "1024.0 YiB"},
		{"max float", math.MaxFloat64, ""},
		{"negative", -2048, "-2.0 KiB"},
		{"nan", math.NaN(), "NaN B"},
		{"inf", math.Inf(1), "+Inf B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			assert.NotPanics(t, func() { got = FormatBytes(tt.in) })
			if tt.want != "" {
				assert.Equal(t, tt.want, got)
			} else {
				assert.Contains(t, got, "YiB")
			}
		})
	}
}
