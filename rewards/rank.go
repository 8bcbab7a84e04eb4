package rewards

import (
	"fmt"
	"strings"
)

// =============================================================================
// RANK HIERARCHY
// =============================================================================

// Title is an employee's job title. Only titles listed in titleRanks have a
// rank; anything else is rejected at the boundary.
type Title string

const (
	TitleTeamMember       Title = "Team Member"
	TitleShiftManager     Title = "Shift Manager"
	TitleAssistantManager Title = "Assistant Manager"
	TitleGeneralManager   Title = "General Manager"
)

// Titles lists every known title, lowest rank first.
var Titles = []Title{TitleTeamMember, TitleShiftManager, TitleAssistantManager, TitleGeneralManager}

var titleRanks = map[Title]int{
	TitleTeamMember:       1,
	TitleShiftManager:     2,
	TitleAssistantManager: 3,
	TitleGeneralManager:   4,
}

// ParseTitle matches a title case-insensitively, ignoring surrounding space.
func ParseTitle(s string) (Title, error) {
	s = strings.TrimSpace(s)
	for _, t := range Titles {
		if strings.EqualFold(s, string(t)) {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown title %q", s)
}

// Rank returns the title's position in the hierarchy. ok is false for
// unknown titles, which never outrank anyone.
func (t Title) Rank() (rank int, ok bool) {
	rank, ok = titleRanks[t]
	return rank, ok
}

// Valid reports whether t is a known title.
func (t Title) Valid() bool {
	_, ok := titleRanks[t]
	return ok
}

// Outranks reports whether t is strictly above other. Both must be known.
func (t Title) Outranks(other Title) bool {
	a, okA := t.Rank()
	b, okB := other.Rank()
	return okA && okB && a > b
}
