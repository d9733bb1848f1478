// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"os"

	fieldstore "github.com/saferwall-labs/fieldstore"
	"github.com/spf13/cobra"
)

var (
	wantFields     bool
	wantSavepoints bool
	wantGlobal     bool
	wantAll        bool
	prefix         string
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "fieldstore",
		Short: "Inspects field archive directories",
		Long:  "A debug/inspection tool for the fieldstore archive format",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			v := fieldstore.CurrentVersion
			fmt.Printf("fieldstore %d.%d.%d\n", v/100, (v/10)%10, v%10)
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump [path...]",
		Short: "Dumps an archive directory's metadata as JSON",
		Long:  "Opens each path in read mode and prints the requested metadata, or walks a directory of archives one level deep",
		Args:  cobra.MinimumNArgs(1),
		Run:   dump,
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	dumpCmd.Flags().StringVarP(&prefix, "prefix", "p", "", "archive prefix (required)")
	dumpCmd.MarkFlagRequired("prefix")
	dumpCmd.Flags().BoolVar(&wantFields, "fields", false, "dump registered field names")
	dumpCmd.Flags().BoolVar(&wantSavepoints, "savepoints", false, "dump savepoint names")
	dumpCmd.Flags().BoolVar(&wantGlobal, "global", false, "dump the global metainfo keys")
	dumpCmd.Flags().BoolVar(&wantAll, "all", false, "dump everything")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
