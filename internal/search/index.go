// Package search maintains a Bleve index over roster members. The review
// UI hits it when an operator resolves an unmatched ledger row by hand,
// so lookups tolerate partial and misspelled names.
package search

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/names"
	"github.com/tithebookapp/tithebook-server/internal/util"
)

// mappingVersion is incremented whenever the index mapping changes.
// This triggers an automatic rebuild on startup when the version doesn't match.
const mappingVersion = "2"

// Index wraps a Bleve index with roster-specific operations.
//
// Thread safety: all public methods are safe for concurrent use.
type Index struct {
	index  bleve.Index
	path   string
	logger *slog.Logger
	mu     sync.RWMutex
}

// Options configures the search index.
type Options struct {
	DataPath string       // Directory for index storage
	Logger   *slog.Logger // Logger for operations
}

// New creates or opens the roster index. A corrupted index or an
// outdated mapping version is removed and recreated; callers reindex
// from the roster afterwards.
func New(opts Options) (*Index, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}

	indexPath := filepath.Join(opts.DataPath, "roster.bleve")
	versionPath := filepath.Join(opts.DataPath, "roster.version")

	var index bleve.Index
	var err error
	needsRebuild := false

	indexExists := false
	if _, statErr := os.Stat(indexPath); statErr == nil {
		indexExists = true
	}

	if indexExists {
		existingVersion, readErr := os.ReadFile(versionPath)
		if readErr != nil || string(existingVersion) != mappingVersion {
			logger.Info("roster index mapping outdated, will rebuild",
				"new_version", mappingVersion,
			)
			needsRebuild = true
		}
	}

	if !needsRebuild && indexExists {
		index, err = bleve.Open(indexPath)
		if err != nil {
			logger.Warn("failed to open existing roster index, will recreate",
				"path", indexPath,
				"error", err,
			)
			needsRebuild = true
		}
	}

	if needsRebuild {
		if removeErr := os.RemoveAll(indexPath); removeErr != nil {
			return nil, fmt.Errorf("remove old index: %w", removeErr)
		}
		index = nil
	}

	if index == nil {
		index, err = bleve.New(indexPath, buildIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("create index: %w", err)
		}
		if writeErr := os.WriteFile(versionPath, []byte(mappingVersion), 0644); writeErr != nil {
			logger.Warn("failed to write roster index version file", "error", writeErr)
		}
		logger.Info("created roster search index", "path", indexPath)
	} else {
		logger.Info("opened roster search index", "path", indexPath)
	}

	return &Index{
		index:  index,
		path:   indexPath,
		logger: logger,
	}, nil
}

// DocumentCount returns the number of indexed roster members.
func (s *Index) DocumentCount() (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.DocCount()
}

// Close closes the index and releases resources.
func (s *Index) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// buildIndexMapping creates the Bleve mapping for roster documents.
// Names use the simple analyzer: Ghanaian names gain nothing from
// English stemming. IDs and phonetic codes are exact keywords.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = simple.Name

	docMapping := bleve.NewDocumentMapping()

	nameField := bleve.NewTextFieldMapping()
	nameField.Analyzer = simple.Name
	nameField.Store = true
	nameField.IncludeTermVectors = true
	docMapping.AddFieldMappingsAt("name", nameField)

	memberIDField := bleve.NewTextFieldMapping()
	memberIDField.Analyzer = keyword.Name
	memberIDField.Store = true
	docMapping.AddFieldMappingsAt("member_id", memberIDField)

	oldIDField := bleve.NewTextFieldMapping()
	oldIDField.Analyzer = keyword.Name
	oldIDField.Store = true
	docMapping.AddFieldMappingsAt("old_member_id", oldIDField)

	assemblyField := bleve.NewTextFieldMapping()
	assemblyField.Analyzer = keyword.Name
	assemblyField.Store = true
	docMapping.AddFieldMappingsAt("assembly", assemblyField)

	phoneticField := bleve.NewTextFieldMapping()
	phoneticField.Analyzer = simple.Name
	phoneticField.Store = false
	docMapping.AddFieldMappingsAt("phonetic", phoneticField)

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func docID(assembly, memberID string) string {
	return util.NormalizeSlug(assembly) + ":" + memberID
}

// phoneticTerms codes every name token so "Menza" finds "Mensah".
func phoneticTerms(fullName string) string {
	tokens := names.Tokenize(fullName)
	codes := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if code := names.PhoneticCode(tok); code != "" {
			codes = append(codes, code)
		}
	}
	return strings.Join(codes, " ")
}

// IndexRoster (re)indexes an assembly's roster in one batch.
func (s *Index) IndexRoster(assembly string, roster []domain.RosterMember) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	batch := s.index.NewBatch()
	for _, m := range roster {
		if err := batch.Index(docID(assembly, m.MembershipID), map[string]any{
			"name":          m.FullName(),
			"member_id":     m.MembershipID,
			"old_member_id": m.OldMembershipID,
			"assembly":      util.NormalizeSlug(assembly),
			"phonetic":      phoneticTerms(m.FullName()),
		}); err != nil {
			return fmt.Errorf("index member %s: %w", m.MembershipID, err)
		}
	}

	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("commit roster batch: %w", err)
	}

	s.logger.Debug("indexed roster", "assembly", assembly, "members", len(roster))
	return nil
}

// RemoveMember drops one member from the index.
func (s *Index) RemoveMember(assembly, memberID string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.Delete(docID(assembly, memberID))
}
