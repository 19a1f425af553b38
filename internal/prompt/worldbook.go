package prompt

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"starchat/internal/chat"
	"starchat/internal/logging"
)

// =============================================================================
// WORLD BOOK
// =============================================================================

// WorldBook holds the lore entries injected into prompts. Entries load from
// YAML files in a directory; Watch reloads them when the files change.
type WorldBook struct {
	mu      sync.RWMutex
	dir     string
	entries []chat.WorldBookEntry
}

// worldBookFile is the on-disk YAML shape: either a bare entry list or a
// document with an `entries:` key.
type worldBookFile struct {
	Entries []chat.WorldBookEntry `yaml:"entries"`
}

// NewWorldBook loads the directory. A missing directory yields an empty
// book, not an error.
func NewWorldBook(dir string) (*WorldBook, error) {
	wb := &WorldBook{dir: dir}
	if err := wb.Reload(); err != nil {
		return nil, err
	}
	return wb, nil
}

// Reload re-reads every .yaml/.yml file in the directory.
func (wb *WorldBook) Reload() error {
	if wb.dir == "" {
		return nil
	}
	files, err := os.ReadDir(wb.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read world book dir: %w", err)
	}

	var entries []chat.WorldBookEntry
	for _, f := range files {
		if f.IsDir() {
			continue
		}
		ext := filepath.Ext(f.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(wb.dir, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			logging.Get(logging.CategoryPrompt).Warn("world book: read %s: %v", path, err)
			continue
		}
		loaded, err := parseWorldBookFile(data)
		if err != nil {
			logging.Get(logging.CategoryPrompt).Warn("world book: parse %s: %v", path, err)
			continue
		}
		entries = append(entries, loaded...)
	}

	wb.mu.Lock()
	wb.entries = entries
	wb.mu.Unlock()
	logging.PromptDebug("world book loaded: %d entries from %s", len(entries), wb.dir)
	return nil
}

func parseWorldBookFile(data []byte) ([]chat.WorldBookEntry, error) {
	var doc worldBookFile
	if err := yaml.Unmarshal(data, &doc); err == nil && len(doc.Entries) > 0 {
		return doc.Entries, nil
	}
	var list []chat.WorldBookEntry
	if err := yaml.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Watch reloads the book on file changes until ctx is cancelled.
func (wb *WorldBook) Watch(ctx context.Context) error {
	if wb.dir == "" {
		<-ctx.Done()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(wb.dir); err != nil {
		return fmt.Errorf("watch %s: %w", wb.dir, err)
	}
	logging.Prompt("watching world book dir %s", wb.dir)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := wb.Reload(); err != nil {
				logging.Get(logging.CategoryPrompt).Warn("world book reload: %v", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logging.Get(logging.CategoryPrompt).Warn("world book watcher: %v", err)
		}
	}
}

// EntriesFor returns the entries active for a conversation given the recent
// history text: always-on entries plus keyword entries whose keyword appears
// in the text. Scoped entries require the conversation id in their scope.
func (wb *WorldBook) EntriesFor(convID, recentText string) []chat.WorldBookEntry {
	wb.mu.RLock()
	defer wb.mu.RUnlock()

	lower := strings.ToLower(recentText)
	var out []chat.WorldBookEntry
	for _, e := range wb.entries {
		if !scopeAllows(e.Scope, convID) {
			continue
		}
		switch e.Trigger {
		case chat.TriggerAlways, "":
			out = append(out, e)
		case chat.TriggerKeyword:
			for _, kw := range e.Keywords {
				if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
					out = append(out, e)
					break
				}
			}
		}
	}
	return out
}

func scopeAllows(scope []string, convID string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, id := range scope {
		if id == convID {
			return true
		}
	}
	return false
}
