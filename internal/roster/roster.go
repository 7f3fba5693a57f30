// Package roster stores each assembly's master member list as a JSON
// file under the data directory. The list originates in the church
// management system; operators upload a fresh export whenever it changes.
package roster

import (
	"encoding/json/v2"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/tithebookapp/tithebook-server/internal/domain"
	"github.com/tithebookapp/tithebook-server/internal/errors"
	"github.com/tithebookapp/tithebook-server/internal/util"
)

// Source reads and writes per-assembly roster files. Reads are cached
// until the file changes on disk.
type Source struct {
	dir    string
	logger *slog.Logger

	mu    sync.RWMutex
	cache map[string]cachedRoster
}

type cachedRoster struct {
	modTime int64
	members []domain.RosterMember
}

// NewSource creates a roster source rooted at dir, creating it if needed.
func NewSource(dir string, logger *slog.Logger) (*Source, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create roster dir: %w", err)
	}
	return &Source{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]cachedRoster),
	}, nil
}

func (s *Source) path(assembly string) string {
	return filepath.Join(s.dir, util.NormalizeSlug(assembly)+".json")
}

// Roster returns the members of one assembly. A missing file is a
// not-found error; matching against an absent roster is meaningless.
func (s *Source) Roster(assembly string) ([]domain.RosterMember, error) {
	path := s.path(assembly)

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFoundf("no roster for assembly %s", assembly)
		}
		return nil, fmt.Errorf("stat roster: %w", err)
	}

	slug := util.NormalizeSlug(assembly)
	s.mu.RLock()
	cached, ok := s.cache[slug]
	s.mu.RUnlock()
	if ok && cached.modTime == info.ModTime().UnixNano() {
		return cached.members, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read roster: %w", err)
	}

	var members []domain.RosterMember
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("parse roster %s: %w", path, err)
	}

	s.mu.Lock()
	s.cache[slug] = cachedRoster{modTime: info.ModTime().UnixNano(), members: members}
	s.mu.Unlock()

	s.logger.Debug("loaded roster", "assembly", assembly, "members", len(members))
	return members, nil
}

// Save replaces one assembly's roster file atomically.
func (s *Source) Save(assembly string, members []domain.RosterMember) error {
	for i, m := range members {
		if m.MembershipID == "" {
			return errors.Validationf("roster entry %d has no membership ID", i)
		}
		if m.Surname == "" && m.FirstName == "" {
			return errors.Validationf("roster entry %d (%s) has no name", i, m.MembershipID)
		}
	}

	data, err := json.Marshal(members)
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}

	path := s.path(assembly)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write roster: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace roster: %w", err)
	}

	s.mu.Lock()
	delete(s.cache, util.NormalizeSlug(assembly))
	s.mu.Unlock()

	s.logger.Info("saved roster", "assembly", assembly, "members", len(members))
	return nil
}

// Assemblies lists every assembly with a stored roster, by slug.
func (s *Source) Assemblies() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read roster dir: %w", err)
	}

	var slugs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) == ".json" {
			slugs = append(slugs, name[:len(name)-len(".json")])
		}
	}
	return slugs, nil
}
