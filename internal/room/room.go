// Package room derives conversation identifiers from participant pairs.
package room

import (
	"sort"
	"strings"
)

// Separator joins the two sorted participant IDs.
const Separator = "_"

// ID returns the room for a two-party conversation. ID(a, b) == ID(b, a).
func ID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return strings.Join(pair, Separator)
}

// Participants splits a room ID back into its two members. IDs that do not
// contain exactly one separator are rejected.
func Participants(roomID string) (string, string, bool) {
	a, b, ok := strings.Cut(roomID, Separator)
	if !ok || a == "" || b == "" || strings.Contains(b, Separator) {
		return "", "", false
	}
	return a, b, true
}

// Has reports whether userID is one of the room's two participants.
func Has(roomID, userID string) bool {
	a, b, ok := Participants(roomID)
	return ok && (a == userID || b == userID)
}

// Counterpart returns the other participant of roomID as seen by self.
func Counterpart(roomID, self string) (string, bool) {
	a, b, ok := Participants(roomID)
	switch {
	case !ok:
		return "", false
	case a == self:
		return b, true
	case b == self:
		return a, true
	}
	return "", false
}
