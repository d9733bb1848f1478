// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	fieldstore "github.com/saferwall-labs/fieldstore"
	"github.com/spf13/cobra"
)

func prettyPrint(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<encode error: %v>", err)
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "\t"); err != nil {
		return string(raw)
	}
	return buf.String()
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func dumpArchive(dir string) {
	log.Printf("Processing archive directory %s, prefix %s", dir, prefix)

	s, err := fieldstore.Open(dir, prefix, fieldstore.ModeRead, nil)
	if err != nil {
		log.Printf("Error opening %s: %v", dir, err)
		return
	}
	defer s.Close()

	if wantFields || wantAll {
		fmt.Println(prettyPrint(s.FieldNames()))
	}
	if wantSavepoints || wantAll {
		fmt.Println(prettyPrint(s.SavepointNames()))
	}
	if wantGlobal || wantAll {
		fmt.Println(prettyPrint(s.Global().Keys()))
	}
}

// dump is the dumpCmd's Run: each argument is treated as an archive
// directory, or a directory of archive directories walked one level
// deep.
func dump(cmd *cobra.Command, args []string) {
	for _, path := range args {
		if !isDirectory(path) {
			log.Printf("%s is not a directory, skipping", path)
			continue
		}

		if fields, err := fieldstore.ListFieldNames(path, prefix); err == nil {
			log.Printf("%s: %d field(s) in archive metadata", path, len(fields))
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			log.Printf("Error reading %s: %v", path, err)
			continue
		}
		sawSubdir := false
		for _, e := range entries {
			if e.IsDir() {
				sawSubdir = true
				dumpArchive(filepath.Join(path, e.Name()))
			}
		}
		if !sawSubdir {
			dumpArchive(path)
		}
	}
}
