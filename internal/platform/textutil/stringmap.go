package textutil

import (
	"sort"
	"strings"
)

// Processor metadata limits. Entries beyond maxMetadataKeys are dropped in key order.
const (
	maxMetadataKeys     = 50
	maxMetadataKeyLen   = 40
	maxMetadataValueLen = 500
)

// CleanMetadata trims caller supplied metadata and clamps it to what the payment
// processor accepts. Blank keys and blank values are discarded.
func CleanMetadata(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	cleaned := make(map[string]string, len(values))
	for rawKey, rawValue := range values {
		key := truncateRunes(strings.TrimSpace(rawKey), maxMetadataKeyLen)
		value := truncateRunes(strings.TrimSpace(rawValue), maxMetadataValueLen)
		if key == "" || value == "" {
			continue
		}
		if _, seen := cleaned[key]; !seen {
			keys = append(keys, key)
		}
		cleaned[key] = value
	}
	if len(keys) > maxMetadataKeys {
		sort.Strings(keys)
		for _, key := range keys[maxMetadataKeys:] {
			delete(cleaned, key)
		}
	}
	if len(cleaned) == 0 {
		return nil
	}
	return cleaned
}

// MergeMetadata layers extra under reserved. Reserved keys always keep their value.
func MergeMetadata(reserved map[string]string, extra map[string]string) map[string]string {
	merged := CleanMetadata(extra)
	if merged == nil {
		merged = make(map[string]string, len(reserved))
	}
	for key, value := range reserved {
		merged[key] = value
	}
	return merged
}

func truncateRunes(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}
