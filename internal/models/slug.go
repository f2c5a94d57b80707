package models

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind is a record kind in the destination store.
type Kind string

const (
	KindContract    Kind = "contract"
	KindBlueprint   Kind = "blueprint"
	KindCharacter   Kind = "character"
	KindCorporation Kind = "corporation"
	KindPlanet      Kind = "planet"
)

// CanonicalSlug returns the one slug a record for (kind, id) may carry.
func CanonicalSlug(kind Kind, id int64) string {
	return fmt.Sprintf("%s-%d", kind, id)
}

// ContractSlug is CanonicalSlug for contracts.
func ContractSlug(contractID int64) string {
	return CanonicalSlug(KindContract, contractID)
}

// ParseSlug extracts the base entity ID from a slug of the given kind.
// canonical is true only when the slug equals CanonicalSlug(kind, id).
// Slugs like "contract-500-2" or "contract-500-dup1" parse to id 500 with
// canonical false; "contract-5000" is id 5000, not a duplicate of 500.
func ParseSlug(kind Kind, slug string) (id int64, canonical bool, ok bool) {
	prefix := string(kind) + "-"
	if !strings.HasPrefix(slug, prefix) {
		return 0, false, false
	}
	rest := slug[len(prefix):]

	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false, false
	}
	id, err := strconv.ParseInt(rest[:end], 10, 64)
	if err != nil {
		return 0, false, false
	}

	suffix := rest[end:]
	if suffix == "" {
		return id, slug == CanonicalSlug(kind, id), true
	}
	// Anything else after the digits must be a separator-led suffix.
	if suffix[0] != '-' {
		return 0, false, false
	}
	return id, false, true
}
