// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

/*
Package process wraps external process execution and single-instance locking
for proxmox-mpc.

# Manager

Manager is how health probes invoke terraform, ansible, node, npm and git.
Going through an interface lets tests script tool output, failures and hangs
without the tools installed:

	pm := process.NewDefaultManager()
	out, err := pm.Run(ctx, "terraform", "--version")

	mock := &process.MockManager{
	    RunFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
	        return []byte("Terraform v1.7.5"), nil
	    },
	}

# Lock

Lock keeps two long-running "monitor" loops from probing the same workspace
at once. It uses flock(2) on Unix and an exclusive create elsewhere.

	lock := process.NewLock(process.LockConfig{Dir: stateDir, Name: "monitor"})
	if err := lock.Acquire(); err != nil {
	    return err
	}
	defer lock.Release()

# Thread Safety

  - Manager implementations are safe for concurrent use.
  - Lock is not safe for concurrent use from multiple goroutines.
*/
package process
