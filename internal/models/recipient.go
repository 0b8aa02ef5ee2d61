package models

import (
	"sort"
	"strconv"
	"strings"
)

// Recipient identifies a message destination. The authoritative registry
// lives outside this module; records keep a snapshot of the fields needed
// for delivery and envelope reconstruction.
type Recipient struct {
	ID       int64
	Number   string
	DeviceID int
}

// RecipientSet is the destination of a message: a single recipient or a
// group. The zero value is an empty set.
type RecipientSet struct {
	Recipients []Recipient
}

func NewRecipientSet(recipients ...Recipient) RecipientSet {
	return RecipientSet{Recipients: recipients}
}

func (s RecipientSet) IsEmpty() bool {
	return len(s.Recipients) == 0
}

func (s RecipientSet) IsGroup() bool {
	return len(s.Recipients) > 1
}

// Primary returns the individual recipient of a singleton set, or the first
// member of a group. Callers must check IsEmpty first.
func (s RecipientSet) Primary() Recipient {
	return s.Recipients[0]
}

// Key produces the canonical identity of the set: sorted recipient ids
// joined with commas. Thread derivation depends on this being stable across
// orderings of the same members.
func (s RecipientSet) Key() string {
	ids := make([]int64, len(s.Recipients))
	for i, r := range s.Recipients {
		ids[i] = r.ID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ",")
}
