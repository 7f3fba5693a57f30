package domain

import "strings"

// RosterMember is one entry of a per-assembly master member list.
// The master-list import owns these records; the pipeline treats them
// as read-only.
type RosterMember struct {
	MembershipID    string `json:"membership_id"`
	OldMembershipID string `json:"old_membership_id,omitempty"`
	Surname         string `json:"surname"`
	FirstName       string `json:"first_name"`
	OtherNames      string `json:"other_names,omitempty"`
	Title           string `json:"title,omitempty"`
}

// FullName returns the member's complete name without the title,
// in surname-first ledger order.
func (m *RosterMember) FullName() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{m.Surname, m.FirstName, m.OtherNames} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// Suggestion pairs a roster member with a similarity score, used when no
// confident match exists and the operator must review alternatives.
type Suggestion struct {
	Member RosterMember `json:"member"`
	Score  float64      `json:"score"`
}

// MatchResult is the outcome of matching one raw OCR name against a roster.
// Either Member is set (confident match) or Suggestions carries the ranked
// runners-up for operator review.
type MatchResult struct {
	RawName     string        `json:"raw_name"`
	Member      *RosterMember `json:"member,omitempty"`
	Suggestions []Suggestion  `json:"suggestions,omitempty"`
}

// Matched reports whether a confident roster match was found.
func (r *MatchResult) Matched() bool {
	return r.Member != nil
}
