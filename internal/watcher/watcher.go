// Package watcher monitors a drop folder for scanned tithe-book pages.
// Each assembly has a subfolder; photos copied into it are batched
// through the extraction pipeline once the folder goes quiet, and the
// reconciled result lands next to them as JSON for the dashboard to pick
// up. This gives operators a no-click ingest path alongside the API.
package watcher

import (
	"context"
	"encoding/json/v2"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tithebookapp/tithebook-server/internal/batch"
	domainerrors "github.com/tithebookapp/tithebook-server/internal/errors"
	"github.com/tithebookapp/tithebook-server/internal/roster"
)

// processedDirName is where page photos move after a successful run,
// so re-triggering the folder never double-counts a page.
const processedDirName = "processed"

// resultFileName is written into the assembly folder after each run.
const resultFileName = "result.json"

// FolderResult pairs a processed assembly folder with its batch outcome.
type FolderResult struct {
	Assembly string
	Dir      string
	Result   *batch.Result
	Err      error
}

// Watcher turns a drop directory into a batch ingest surface.
type Watcher struct {
	processor *batch.Processor
	rosters   *roster.Source
	dropDir   string
	logger    *slog.Logger
	opts      Options

	fs *fsnotify.Watcher

	// pending maps an assembly folder to its settle timer. A new file
	// event while the timer runs pushes processing back.
	pending map[string]*time.Timer
	mu      sync.Mutex

	settled chan string
	results chan FolderResult
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a watcher over dropDir. Existing assembly subfolders are
// watched immediately; new subfolders are picked up as they appear.
func New(processor *batch.Processor, rosters *roster.Source, dropDir string, logger *slog.Logger, opts Options) (*Watcher, error) {
	opts.setDefaults()

	if err := os.MkdirAll(dropDir, 0o755); err != nil {
		return nil, fmt.Errorf("create drop dir: %w", err)
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	w := &Watcher{
		processor: processor,
		rosters:   rosters,
		dropDir:   filepath.Clean(dropDir),
		logger:    logger,
		opts:      opts,
		fs:        fs,
		pending:   make(map[string]*time.Timer),
		settled:   make(chan string, 16),
		results:   make(chan FolderResult, 16),
		done:      make(chan struct{}),
	}

	if err := fs.Add(w.dropDir); err != nil {
		fs.Close()
		return nil, fmt.Errorf("watch drop dir: %w", err)
	}

	entries, err := os.ReadDir(w.dropDir)
	if err != nil {
		fs.Close()
		return nil, fmt.Errorf("read drop dir: %w", err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || w.opts.shouldIgnore(entry.Name()) {
			continue
		}
		if err := fs.Add(filepath.Join(w.dropDir, entry.Name())); err != nil {
			logger.Warn("failed to watch assembly folder", "folder", entry.Name(), "error", err)
		}
	}

	return w, nil
}

// Results reports each completed folder run. Receivers must keep up;
// the channel is buffered but processing blocks when it fills.
func (w *Watcher) Results() <-chan FolderResult {
	return w.results
}

// Start begins watching. Blocks until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	w.wg.Add(1)
	go w.loop(ctx)

	<-ctx.Done()
	return nil
}

// Stop stops the watcher and releases resources.
func (w *Watcher) Stop() error {
	close(w.done)

	w.mu.Lock()
	for _, timer := range w.pending {
		timer.Stop()
	}
	clear(w.pending)
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	close(w.results)
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("drop folder watch error", "error", err)
		case dir := <-w.settled:
			w.runFolder(ctx, dir)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	path := event.Name
	if w.opts.shouldIgnore(path) {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			// New assembly folder.
			if filepath.Dir(path) == w.dropDir && filepath.Base(path) != processedDirName {
				if err := w.fs.Add(path); err != nil {
					w.logger.Warn("failed to watch assembly folder", "folder", path, "error", err)
				}
			}
			return
		}
	}

	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	if !isPageImage(path) {
		return
	}

	dir := filepath.Dir(path)
	if dir == w.dropDir || filepath.Base(dir) == processedDirName {
		// Pages belong in an assembly subfolder.
		return
	}

	w.startSettling(dir)
}

// startSettling (re)arms the settle timer for an assembly folder.
func (w *Watcher) startSettling(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if timer, exists := w.pending[dir]; exists {
		timer.Stop()
	}

	w.pending[dir] = time.AfterFunc(w.opts.SettleDelay, func() {
		w.mu.Lock()
		delete(w.pending, dir)
		w.mu.Unlock()

		select {
		case w.settled <- dir:
		case <-w.done:
		}
	})
}

// runFolder processes every page image in an assembly folder as one
// batch. Files are taken in name order, which is how phone scan apps
// number sequential pages.
func (w *Watcher) runFolder(ctx context.Context, dir string) {
	assembly := filepath.Base(dir)

	files, err := w.collectPages(dir)
	if err != nil {
		w.emit(FolderResult{Assembly: assembly, Dir: dir, Err: err})
		return
	}
	if len(files) == 0 {
		return
	}

	memberList, err := w.rosters.Roster(assembly)
	if err != nil && !errors.Is(err, domainerrors.ErrNotFound) {
		w.emit(FolderResult{Assembly: assembly, Dir: dir, Err: err})
		return
	}

	result, err := w.processor.Process(ctx, files, assembly, memberList)
	if err != nil {
		w.logger.Error("drop folder batch failed", "assembly", assembly, "error", err)
		w.emit(FolderResult{Assembly: assembly, Dir: dir, Err: err})
		return
	}

	if err := w.writeResult(dir, result); err != nil {
		w.logger.Error("failed to write batch result", "assembly", assembly, "error", err)
		w.emit(FolderResult{Assembly: assembly, Dir: dir, Result: result, Err: err})
		return
	}

	if err := w.archivePages(dir, files); err != nil {
		w.logger.Warn("failed to archive processed pages", "assembly", assembly, "error", err)
	}

	w.logger.Info("drop folder batch processed",
		"assembly", assembly,
		"files", result.FilesProcessed,
		"records", len(result.Records),
		"warnings", len(result.Warnings))

	w.emit(FolderResult{Assembly: assembly, Dir: dir, Result: result})
}

func (w *Watcher) collectPages(dir string) ([]batch.File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read assembly folder: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || w.opts.shouldIgnore(entry.Name()) || !isPageImage(entry.Name()) {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	files := make([]batch.File, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read page %s: %w", name, err)
		}
		files = append(files, batch.File{Name: name, Data: data})
	}
	return files, nil
}

func (w *Watcher) writeResult(dir string, result *batch.Result) error {
	tmp := filepath.Join(dir, resultFileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	if err := json.MarshalWrite(f, result); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}

	return os.Rename(tmp, filepath.Join(dir, resultFileName))
}

func (w *Watcher) archivePages(dir string, files []batch.File) error {
	processedDir := filepath.Join(dir, processedDirName)
	if err := os.MkdirAll(processedDir, 0o755); err != nil {
		return err
	}

	for _, file := range files {
		src := filepath.Join(dir, file.Name)
		dst := filepath.Join(processedDir, file.Name)
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func (w *Watcher) emit(result FolderResult) {
	select {
	case w.results <- result:
	case <-w.done:
	}
}
