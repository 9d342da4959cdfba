// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package strutils

import "strings"

// StrListContains looks for a string in a list of strings.
func StrListContains(haystack []string, needle string) bool {
	for _, item := range haystack {
		if item == needle {
			return true
		}
	}
	return false
}

// RemoveDuplicatesStable removes duplicate and empty elements from a slice of
// strings, preserving order (and case) of the original slice. All empty and
// whitespace-only elements are removed.
func RemoveDuplicatesStable(items []string, caseInsensitive bool) []string {
	itemsMap := make(map[string]bool, len(items))
	deduplicated := make([]string, 0, len(items))

	for _, item := range items {
		key := item
		if caseInsensitive {
			key = strings.ToLower(strings.TrimSpace(item))
		}
		if key == "" || itemsMap[key] {
			continue
		}
		itemsMap[key] = true
		deduplicated = append(deduplicated, item)
	}
	return deduplicated
}

// EquivalentSets returns true if the two sets of strings have the same
// membership, ignoring order and duplicates.
func EquivalentSets(a, b []string) bool {
	for _, v := range a {
		if !StrListContains(b, v) {
			return false
		}
	}
	for _, v := range b {
		if !StrListContains(a, v) {
			return false
		}
	}
	return true
}
