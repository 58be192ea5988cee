// SPDX-License-Identifier: MPL-2.0

package main

import (
	"os"

	"github.com/stackpack/stackpack/cmd/stackpack"
)

func main() {
	os.Exit(cmd.Main())
}
