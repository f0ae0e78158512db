// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"log"

	"github.com/m10k/albs-web-server/tools/ctl/command/importstore"
	"github.com/m10k/albs-web-server/tools/ctl/command/modify"
	"github.com/m10k/albs-web-server/tools/ctl/command/preview"
	"github.com/m10k/albs-web-server/tools/ctl/command/reconcile"
	"github.com/m10k/albs-web-server/tools/ctl/command/references"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ctl",
	Short: "An operator tool for build artifact reconciliation",
}

func init() {
	rootCmd.AddCommand(preview.Command())
	rootCmd.AddCommand(reconcile.Command())
	rootCmd.AddCommand(references.Command())
	rootCmd.AddCommand(modify.Command())
	rootCmd.AddCommand(importstore.Command())
}

func main() {
	flag.Parse()
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
