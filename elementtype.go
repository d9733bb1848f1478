// Copyright 2026 The Fieldstore Authors. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package fieldstore

import "fmt"

// ElementType tags the scalar type carried by a Metainfo value or a Field's
// payload. Strings are the only variable-width tag; every other tag has a
// fixed on-disk byte size and is written little-endian regardless of host
// byte order.
type ElementType uint8

// Element type tags. Values are persisted (legacy upgrade encodes the
// string form, the current format encodes this name too), so they must
// never be renumbered once shipped.
const (
	ElementTypeUnknown ElementType = iota
	ElementTypeBoolean
	ElementTypeInt32
	ElementTypeInt64
	ElementTypeFloat32
	ElementTypeFloat64
	ElementTypeString
)

// String renders the tag the way it is spelled in JSON documents.
func (t ElementType) String() string {
	switch t {
	case ElementTypeBoolean:
		return "bool"
	case ElementTypeInt32:
		return "int32"
	case ElementTypeInt64:
		return "int64"
	case ElementTypeFloat32:
		return "float32"
	case ElementTypeFloat64:
		return "float64"
	case ElementTypeString:
		return "string"
	default:
		return "unknown"
	}
}

// elementTypeFromString is the inverse of String, used by M.fromJSON.
func elementTypeFromString(s string) (ElementType, error) {
	switch s {
	case "bool":
		return ElementTypeBoolean, nil
	case "int32":
		return ElementTypeInt32, nil
	case "int64":
		return ElementTypeInt64, nil
	case "float32":
		return ElementTypeFloat32, nil
	case "float64":
		return ElementTypeFloat64, nil
	case "string":
		return ElementTypeString, nil
	default:
		return ElementTypeUnknown, fmt.Errorf("fieldstore: unknown element type tag %q", s)
	}
}

// ByteSize returns the fixed on-disk size of one scalar of this type, or
// -1 for String, whose size depends on content.
func (t ElementType) ByteSize() int {
	switch t {
	case ElementTypeBoolean:
		return 1
	case ElementTypeInt32, ElementTypeFloat32:
		return 4
	case ElementTypeInt64, ElementTypeFloat64:
		return 8
	case ElementTypeString:
		return -1
	default:
		return 0
	}
}
