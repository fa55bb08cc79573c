// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

//go:build !unix

package process

import (
	"errors"
	"io/fs"
	"os"
)

// tryLock falls back to exclusive creation. A crashed holder leaves a stale
// file that must be removed by hand.
func tryLock(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, errWouldBlock
		}
		return nil, err
	}
	return f, nil
}

func unlock(f *os.File, path string) error {
	_ = f.Close()
	return os.Remove(path)
}
