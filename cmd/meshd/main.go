/* SPDX-License-Identifier: MIT */

// Command meshd is the CLI harness that exercises the Engine's public API
// (spec.md §4.11): it loads a Config from an INI file, constructs the host
// services, and runs the mesh as a foreground daemon, the way the teacher's
// own wireguard-go runs one tunnel per invocation.
package main

import "github.com/SaemsCodes/offline-radio-sub000/cmd/meshd/cmd"

func main() {
	cmd.Execute()
}
