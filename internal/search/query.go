package search

import (
	"context"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/tithebookapp/tithebook-server/internal/names"
	"github.com/tithebookapp/tithebook-server/internal/util"
)

// Params configures a roster search.
type Params struct {
	Assembly string // Scope to one assembly (required)
	Query    string // Operator's search text
	Limit    int
}

// Result holds roster search results.
type Result struct {
	Query  string `json:"query"`
	Total  uint64 `json:"total"`
	TookMs int64  `json:"took_ms"`
	Hits   []Hit  `json:"hits"`
}

// Hit is a single matching member.
type Hit struct {
	MemberID    string  `json:"member_id"`
	OldMemberID string  `json:"old_member_id,omitempty"`
	Name        string  `json:"name"`
	Score       float64 `json:"score"`
}

// Search finds roster members by name fragment, misspelling, phonetic
// sound-alike, or membership ID.
func (s *Index) Search(ctx context.Context, params Params) (*Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if params.Limit <= 0 {
		params.Limit = 10
	}

	searchRequest := bleve.NewSearchRequestOptions(buildQuery(params), params.Limit, 0, false)
	searchRequest.Fields = []string{"name", "member_id", "old_member_id"}

	searchResult, err := s.index.SearchInContext(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	result := &Result{
		Query:  params.Query,
		Total:  searchResult.Total,
		TookMs: searchResult.Took.Milliseconds(),
		Hits:   make([]Hit, 0, len(searchResult.Hits)),
	}

	for _, hit := range searchResult.Hits {
		h := Hit{Score: hit.Score}
		if n, ok := hit.Fields["name"].(string); ok {
			h.Name = n
		}
		if id, ok := hit.Fields["member_id"].(string); ok {
			h.MemberID = id
		}
		if id, ok := hit.Fields["old_member_id"].(string); ok {
			h.OldMemberID = id
		}
		result.Hits = append(result.Hits, h)
	}

	return result, nil
}

// buildQuery combines exact-ID, fuzzy-name, prefix, and phonetic clauses,
// all conjoined with the assembly scope.
func buildQuery(params Params) query.Query {
	text := strings.TrimSpace(params.Query)

	var clauses []query.Query

	// Exact membership ID, current or legacy.
	idQuery := bleve.NewTermQuery(text)
	idQuery.SetField("member_id")
	oldIDQuery := bleve.NewTermQuery(text)
	oldIDQuery.SetField("old_member_id")
	clauses = append(clauses, idQuery, oldIDQuery)

	// Straight match with a relevance boost.
	matchQuery := bleve.NewMatchQuery(text)
	matchQuery.SetField("name")
	matchQuery.SetBoost(3.0)
	clauses = append(clauses, matchQuery)

	// Tolerate one edit per token.
	fuzzyQuery := bleve.NewMatchQuery(text)
	fuzzyQuery.SetField("name")
	fuzzyQuery.SetFuzziness(1)
	clauses = append(clauses, fuzzyQuery)

	// Partial typing: prefix on each token.
	for _, tok := range names.Tokenize(text) {
		prefixQuery := bleve.NewPrefixQuery(strings.ToLower(tok))
		prefixQuery.SetField("name")
		clauses = append(clauses, prefixQuery)

		// Sound-alike spellings land on the same or a prefixed code
		// (dropped trailing consonants shorten the code).
		if code := names.PhoneticCode(tok); code != "" {
			phoneticQuery := bleve.NewMatchQuery(code)
			phoneticQuery.SetField("phonetic")
			phoneticPrefix := bleve.NewPrefixQuery(code)
			phoneticPrefix.SetField("phonetic")
			clauses = append(clauses, phoneticQuery, phoneticPrefix)
		}
	}

	textQuery := bleve.NewDisjunctionQuery(clauses...)

	assemblyQuery := bleve.NewTermQuery(util.NormalizeSlug(params.Assembly))
	assemblyQuery.SetField("assembly")

	return bleve.NewConjunctionQuery(assemblyQuery, textQuery)
}
