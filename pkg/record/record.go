// Copyright 2025 Certified DP Developers. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

// Package record defines the bit-packed record layout shared with the
// external prover and verifier binaries.
package record

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// Field declares one unsigned bit-field inside a packed word.
type Field struct {
	Name   string
	Width  uint
	Offset uint
}

// Mask returns the field's width mask, e.g. 0x7f for a 7-bit field.
func (f Field) Mask() uint64 {
	return 1<<f.Width - 1
}

// Schema is an ordered set of non-overlapping fields packed into a single
// little-endian word of 16, 32 or 64 bits. The word is the unit the prover
// memory-maps, so the layout must match the entry width the binaries were
// built with.
type Schema struct {
	ContainerBits uint
	Fields        []Field
}

// Census is the reference layout for the ACS census extract: 37 of 64 bits
// used, the rest zero padding. Requires binaries built with the 64-bit
// entry width.
var Census = MustSchema(64,
	Field{Name: "age", Width: 7, Offset: 0},
	Field{Name: "sex", Width: 1, Offset: 7},
	Field{Name: "income", Width: 23, Offset: 8},
	Field{Name: "education", Width: 6, Offset: 31},
)

// NewSchema validates the field layout against the container width.
func NewSchema(containerBits uint, fields ...Field) (*Schema, error) {
	switch containerBits {
	case 16, 32, 64:
	default:
		return nil, errors.Errorf("unsupported container width %d, expect 16, 32 or 64", containerBits)
	}
	if len(fields) == 0 {
		return nil, errors.New("schema requires at least one field")
	}

	var occupied uint64
	for _, field := range fields {
		if field.Width == 0 {
			return nil, errors.Errorf("field %s has zero width", field.Name)
		}
		if field.Offset+field.Width > containerBits {
			return nil, errors.Errorf(
				"field %s (%d bits at offset %d) exceeds the %d-bit container",
				field.Name, field.Width, field.Offset, containerBits,
			)
		}
		bits := field.Mask() << field.Offset
		if occupied&bits != 0 {
			return nil, errors.Errorf("field %s overlaps a previous field", field.Name)
		}
		occupied |= bits
	}

	return &Schema{ContainerBits: containerBits, Fields: fields}, nil
}

// MustSchema is NewSchema for statically known layouts; it panics on an
// invalid layout.
func MustSchema(containerBits uint, fields ...Field) *Schema {
	schema, err := NewSchema(containerBits, fields...)
	if err != nil {
		panic(err)
	}
	return schema
}

// Size returns the serialized record size in bytes.
func (s *Schema) Size() int {
	return int(s.ContainerBits / 8)
}

// Pack folds one value per field into a single word. Each value is masked to
// its declared width first, so out-of-range values are silently truncated;
// callers are expected to validate domain ranges upstream. Pack panics if
// the value count does not match the schema.
func (s *Schema) Pack(values ...uint64) uint64 {
	if len(values) != len(s.Fields) {
		panic(fmt.Sprintf("record: pack got %d values for a %d-field schema", len(values), len(s.Fields)))
	}

	var word uint64
	for i, field := range s.Fields {
		word |= (values[i] & field.Mask()) << field.Offset
	}
	return word
}

// Unpack splits a word back into per-field values in schema order.
func (s *Schema) Unpack(word uint64) []uint64 {
	values := make([]uint64, len(s.Fields))
	for i, field := range s.Fields {
		values[i] = (word >> field.Offset) & field.Mask()
	}
	return values
}

// PutWord serializes a word at the start of dst in little-endian order.
// dst must be at least Size() bytes long.
func (s *Schema) PutWord(dst []byte, word uint64) {
	switch s.ContainerBits {
	case 16:
		binary.LittleEndian.PutUint16(dst, uint16(word))
	case 32:
		binary.LittleEndian.PutUint32(dst, uint32(word))
	default:
		binary.LittleEndian.PutUint64(dst, word)
	}
}

// Word deserializes a word from the start of src.
func (s *Schema) Word(src []byte) uint64 {
	switch s.ContainerBits {
	case 16:
		return uint64(binary.LittleEndian.Uint16(src))
	case 32:
		return uint64(binary.LittleEndian.Uint32(src))
	default:
		return binary.LittleEndian.Uint64(src)
	}
}
