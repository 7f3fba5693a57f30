// Package match resolves raw OCR names against an assembly's member roster.
//
// Matching is a pure function of its inputs: identical raw name and roster
// always produce identical output. No I/O, no shared state.
package match

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/names"
)

// Default tuning. Callers override via Options.
const (
	// DefaultThreshold is the minimum aggregate score for a confident match.
	DefaultThreshold = 0.8
	// DefaultEpsilon is the tie margin: a runner-up within this distance of
	// the best candidate makes the match ambiguous, so no match is returned.
	DefaultEpsilon = 0.05
	// surnameWeight biases the aggregate toward surname tokens, which are
	// the most stable part of a ledger entry.
	surnameWeight = 2.0
)

// Options tunes the matcher. Zero values fall back to defaults.
type Options struct {
	Threshold float64
	Epsilon   float64
}

func (o Options) withDefaults() Options {
	if o.Threshold == 0 {
		o.Threshold = DefaultThreshold
	}
	if o.Epsilon == 0 {
		o.Epsilon = DefaultEpsilon
	}
	return o
}

// Matcher scores raw names against rosters.
type Matcher struct {
	opts Options
}

// New creates a matcher with the given options.
func New(opts Options) *Matcher {
	return &Matcher{opts: opts.withDefaults()}
}

// FindMemberByName returns the roster member best matching rawName, or nil
// when no candidate clears the acceptance threshold unambiguously.
// Two candidates within epsilon of each other are treated as no-match
// rather than a guess.
func (m *Matcher) FindMemberByName(rawName string, roster []domain.RosterMember) *domain.RosterMember {
	scored := m.scoreAll(rawName, roster)
	if len(scored) == 0 {
		return nil
	}

	best := scored[0]
	if best.Score < m.opts.Threshold {
		return nil
	}
	if len(scored) > 1 {
		runnerUp := scored[1]
		if runnerUp.Member.MembershipID != best.Member.MembershipID &&
			best.Score-runnerUp.Score < m.opts.Epsilon {
			return nil
		}
	}

	member := best.Member
	return &member
}

// TopFuzzyMatches returns the n best-scoring candidates regardless of
// threshold, for operator review when no confident match exists.
func (m *Matcher) TopFuzzyMatches(rawName string, roster []domain.RosterMember, n int) []domain.Suggestion {
	scored := m.scoreAll(rawName, roster)
	if n < len(scored) {
		scored = scored[:n]
	}
	return scored
}

// scoreAll scores every roster member against rawName and returns them
// sorted by descending score, membership ID as the deterministic tiebreak.
func (m *Matcher) scoreAll(rawName string, roster []domain.RosterMember) []domain.Suggestion {
	rawTokens := names.Tokenize(rawName)
	if len(rawTokens) == 0 || len(roster) == 0 {
		return nil
	}

	scored := make([]domain.Suggestion, 0, len(roster))
	for _, member := range roster {
		score := scoreMember(rawTokens, &member)
		if score <= 0 {
			continue
		}
		scored = append(scored, domain.Suggestion{Member: member, Score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Member.MembershipID < scored[j].Member.MembershipID
	})
	return scored
}

// scoreMember computes the order-insensitive aggregate similarity between
// the raw tokens and one roster member: each member token takes its best
// match among the raw tokens, surname tokens weighted double.
func scoreMember(rawTokens []string, member *domain.RosterMember) float64 {
	surnameTokens := names.Tokenize(member.Surname)
	givenTokens := names.Tokenize(member.FirstName + " " + member.OtherNames)
	if len(surnameTokens) == 0 && len(givenTokens) == 0 {
		return 0
	}

	var weighted, totalWeight float64
	for _, t := range surnameTokens {
		weighted += surnameWeight * bestScore(t, rawTokens)
		totalWeight += surnameWeight
	}
	for _, t := range givenTokens {
		weighted += bestScore(t, rawTokens)
		totalWeight += 1
	}
	return weighted / totalWeight
}

// bestScore returns the highest similarity between token and any candidate.
func bestScore(token string, candidates []string) float64 {
	best := 0.0
	for _, c := range candidates {
		if s := names.TokenSimilarity(token, c); s > best {
			best = s
		}
	}
	return best
}

// DisplayIdentity formats the canonical display string for a matched member:
// surname, given names, then "(primaryId|secondaryId)", or "(primaryId)"
// when no legacy ID exists.
func DisplayIdentity(member *domain.RosterMember) string {
	var b strings.Builder
	b.WriteString(member.FullName())
	if member.OldMembershipID != "" {
		fmt.Fprintf(&b, " (%s|%s)", member.MembershipID, member.OldMembershipID)
	} else {
		fmt.Fprintf(&b, " (%s)", member.MembershipID)
	}
	return b.String()
}
