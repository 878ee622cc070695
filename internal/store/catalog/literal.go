// Briefwave - Personalized Audio Briefing Backend
// Copyright 2026 Ash Morgan
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/ashmorgan/briefwave

package catalog

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// VectorLiteral renders a float vector as a DuckDB fixed-size array
// literal, e.g. [0.1, 0.2]::FLOAT[2]. database/sql placeholders cannot
// carry array values through the driver; the rendered literal contains
// only digits and punctuation so it is safe to splice into SQL.
func VectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'g', -1, 32))
	}
	b.WriteString("]::FLOAT[")
	b.WriteString(strconv.Itoa(len(vec)))
	b.WriteByte(']')
	return b.String()
}

// textListLiteral renders a string slice as a DuckDB TEXT list literal
// with single quotes doubled.
func textListLiteral(items []string) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, s := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('\'')
		b.WriteString(strings.ReplaceAll(s, "'", "''"))
		b.WriteByte('\'')
	}
	b.WriteByte(']')
	return b.String()
}

// scanVector decodes a to_json()-rendered vector column. A SQL NULL
// arrives as an empty string and decodes to a nil slice.
func scanVector(raw string) ([]float32, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, fmt.Errorf("decoding vector column: %w", err)
	}
	return vec, nil
}

// scanTextList decodes a to_json()-rendered TEXT[] column.
func scanTextList(raw string) ([]string, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var items []string
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil, fmt.Errorf("decoding text list column: %w", err)
	}
	return items, nil
}
