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
	"fmt"
	"math"
)

const byteUnits = "KMGTPEZY"

// FormatBytes renders n as a binary size ("512 B", "1.5 KiB").
//
// Values beyond the largest unit stay in YiB, and non-finite values are
// printed as is, so any recorded sample can be displayed.
func FormatBytes(n float64) string {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Sprintf("%v B", n)
	}
	const unit = 1024
	abs := math.Abs(n)
	if abs < unit {
		return fmt.Sprintf("%.0f B", n)
	}
	div, exp := float64(unit), 0
	for v := abs / unit; v >= unit && exp < len(byteUnits)-1; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", n/div, byteUnits[exp])
}
