// SPDX-FileCopyrightText: Copyright 2026 Kestrel Contributors
// SPDX-License-Identifier: Apache-2.0

// Command kestrel runs the authorization server.
package main

import (
	"os"

	"github.com/kestrelauth/kestrel/cmd/kestrel/app"
)

func main() {
	if err := app.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
