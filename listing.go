// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// ListFieldNames reads only ArchiveMetaData-<prefix>.json under dir and
// returns its field names, without constructing a full Serializer. It is
// meant for tooling that wants to know what is inside an archive
// directory without paying for a Read-mode open, the way the teacher's
// cmd/pedumper.go walks a directory of binaries without fully parsing
// each one up front.
func ListFieldNames(dir, prefix string) ([]string, error) {
	path := filepath.Join(dir, "ArchiveMetaData-"+prefix+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("fieldstore: reading %s: %w", path, err)
	}
	var doc archiveMetaDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMetadataCorrupt, path, err)
	}
	names := make([]string, 0, len(doc.FieldsTable))
	for name := range doc.FieldsTable {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}
