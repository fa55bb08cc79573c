// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command proxmox-mpc is the observability front end of the proxmox-mpc
// infrastructure tool: health checks, log and trace inspection, metrics
// exposition and troubleshooting reports.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	a := newApp(stdout, stderr)
	root := newRootCmd(a)
	root.SetArgs(args)

	err := root.Execute()
	if cerr := a.close(); cerr != nil {
		fmt.Fprintf(stderr, "warning: shutdown: %v\n", cerr)
	}
	if err != nil {
		a.reportError(err)
		return exitCode(err)
	}
	return exitOK
}
