package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// CollapseWhitespace trims s and collapses internal whitespace runs into a
// single space.
func CollapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// DeriveMovieKey derives the stable join key for a (title, year) pair:
// sha256 of "lowercased-collapsed-title|year", truncated to 16 hex chars.
// The key must be byte-for-byte reproducible across runs.
func DeriveMovieKey(title string, year int64) string {
	norm := fmt.Sprintf("%s|%d", strings.ToLower(CollapseWhitespace(title)), year)
	sum := sha256.Sum256([]byte(norm))
	return hex.EncodeToString(sum[:])[:16]
}

// HashRecord computes the record hash over the given columns of a mapped
// row: a sha256 over the "|"-joined serialized values. Nulls serialize as
// empty strings. Callers pass cols pre-sorted so the hash is stable.
func HashRecord(cols []string, row map[string]any) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = FormatValue(row[c])
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// FormatValue serializes a mapped value for hashing and CSV output.
// Nil (null) becomes the empty string.
func FormatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case int64:
		return strconv.FormatInt(t, 10)
	case int:
		return strconv.Itoa(t)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
