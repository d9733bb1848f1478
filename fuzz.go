// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import "encoding/json"

// Fuzz exercises the legacy document decode and type-inference pipeline
// of legacyupgrade.go, the most exposed untrusted-input surface in this
// engine: a legacy archive's FieldsTable and GlobalMetainfo are arbitrary
// caller-supplied JSON with no schema enforcement beyond spec.md §4.6's
// tag-inference rule. It does not touch the filesystem, since the
// offset-table half of the migration needs real data files to size
// payloads against.
func Fuzz(data []byte) int {
	var doc legacyDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0
	}

	floatTag := inferFloatTag(doc.FieldsTable)

	for key, raw := range doc.GlobalMeta {
		if len(key) >= 2 && key[:2] == "__" {
			continue
		}
		if _, err := inferValue(raw, floatTag); err != nil {
			return 0
		}
	}

	for _, entry := range doc.FieldsTable {
		if _, _, _, err := decodeLegacyFieldEntry(entry, floatTag); err != nil {
			return 0
		}
		_ = legacyElementType(entry, floatTag)
	}

	return 1
}
