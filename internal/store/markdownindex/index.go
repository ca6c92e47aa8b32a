package markdownindex

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/sergi/go-diff/diffmatchpatch"

	"pkm-assistant/internal/logging"
)

// webpagesHeading is the single section every tree head bullet lives under
// (SPEC_FULL.md §6): the index never grows a heading per tree, only one
// growing list of bullets under this one heading.
const webpagesHeading = "## Webpages"

// Entry is one tree head's bullet entry in the index.
type Entry struct {
	URL        string
	LoadedAt   time.Time
	Title      string
	Summary    string
	Referrer   string
	Intentions []string
}

// keyMarker delimits the hidden (url, load-time) key embedded above each
// bullet, the basis for the head-match replacement rule (SPEC_FULL.md §13):
// re-upserting the same (url, page_loaded_at) pair replaces that bullet in
// place instead of appending a duplicate.
var keyMarker = regexp.MustCompile(`<!-- pkm-key: (.+?)\|(\d+) -->`)

func entryKey(url string, loadedAt time.Time) string {
	return fmt.Sprintf("%s|%d", url, loadedAt.UnixMilli())
}

// Index is the append-only markdown knowledge index: one file, one
// "## Webpages" section holding one bullet per tree head, each tagged with a
// hidden key comment.
type Index struct {
	path       string
	heading    string
	gitEnabled bool
	git        *gitOperations
	logger     logging.Logger
}

// Config configures an Index.
type Config struct {
	Path       string
	Heading    string
	GitVersion bool
}

// Open prepares the index file's directory and, if configured, its git
// repository. The file itself is created lazily on first Upsert.
func Open(cfg Config, logger logging.Logger) (*Index, error) {
	logger = logging.OrNop(logger)
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create markdown index dir %s: %w", dir, err)
	}

	idx := &Index{
		path:       cfg.Path,
		heading:    cfg.Heading,
		gitEnabled: cfg.GitVersion,
		logger:     logger,
	}
	if cfg.GitVersion {
		idx.git = newGitOperations(dir, logger)
		if err := idx.git.init(context.Background()); err != nil {
			logger.Warn("init markdown index git repo, git versioning disabled: %v", err)
			idx.gitEnabled = false
		}
	}
	return idx, nil
}

// Upsert replaces the bullet for (entry.URL, entry.LoadedAt) if one already
// exists, or appends a new bullet under the Webpages heading otherwise, then
// atomically rewrites the index file and, if git versioning is enabled,
// commits the change.
func (idx *Index) Upsert(ctx context.Context, entry Entry) error {
	existing, err := idx.read()
	if err != nil {
		return err
	}

	key := entryKey(entry.URL, entry.LoadedAt)
	bullet := renderBullet(entry, key)

	updated, replaced := replaceEntry(existing, key, bullet)
	if !replaced {
		updated = appendEntry(existing, idx.heading, bullet)
	}

	if existing != "" {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(existing, updated, false)
		if changed := dmp.DiffPrettyText(diffs); changed != "" {
			idx.logger.Debug("markdown index change for %s: %d diff segments", entry.URL, len(diffs))
		}
	}

	if err := idx.writeAtomic(updated); err != nil {
		return err
	}
	if idx.gitEnabled {
		if err := idx.commitChange(ctx, entry.URL); err != nil {
			idx.logger.Warn("git commit of markdown index for %s failed: %v", entry.URL, err)
		}
	}
	return nil
}

// renderBullet renders one tree head as the top-level bullet spec.md §6
// names, with child bullets for whichever of Summary/Referrer/Intentions are
// present. The hidden key marker is emitted as its own line immediately
// above the bullet so replaceEntry can find and replace it without
// disturbing neighboring bullets.
func renderBullet(entry Entry, key string) string {
	title := entry.Title
	if title == "" {
		title = entry.URL
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<!-- pkm-key: %s -->\n", key)
	fmt.Fprintf(&b, "- [%s](%s) [%s]\n", title, entry.URL, entry.LoadedAt.Format("2006-01-02 15:04"))
	if entry.Summary != "" {
		fmt.Fprintf(&b, "  - Summary: %s\n", entry.Summary)
	}
	if entry.Referrer != "" {
		fmt.Fprintf(&b, "  - Referrer: %s\n", entry.Referrer)
	}
	if len(entry.Intentions) > 0 {
		fmt.Fprintf(&b, "  - Intentions: %s\n", strings.Join(entry.Intentions, ", "))
	}
	return b.String()
}

// appendEntry adds bullet to the end of the Webpages section, creating the
// document header and the section heading if the index is empty or
// predates this bullet format.
func appendEntry(existing, heading, bullet string) string {
	if !strings.Contains(existing, webpagesHeading) {
		var b strings.Builder
		if heading != "" {
			fmt.Fprintf(&b, "# %s\n\n", heading)
		}
		b.WriteString(webpagesHeading + "\n\n")
		b.WriteString(bullet)
		b.WriteString("\n")
		return b.String()
	}
	return strings.TrimRight(existing, "\n") + "\n\n" + bullet + "\n"
}

// replaceEntry finds the bullet tagged with key and replaces it wholesale,
// preserving every other bullet's position.
func replaceEntry(doc, key, newBullet string) (string, bool) {
	matches := keyMarker.FindAllStringIndex(doc, -1)
	for i, m := range matches {
		full := doc[m[0]:m[1]]
		sub := keyMarker.FindStringSubmatch(full)
		if sub == nil {
			continue
		}
		gotKey := sub[1] + "|" + sub[2]
		if gotKey != key {
			continue
		}

		start := m[0]
		end := len(doc)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		return doc[:start] + newBullet + "\n" + doc[end:], true
	}
	return doc, false
}

func (idx *Index) read() (string, error) {
	data, err := os.ReadFile(idx.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read markdown index %s: %w", idx.path, err)
	}
	return string(data), nil
}

// writeAtomic writes content to a temp file in the same directory then
// renames it over the index path, so a crash mid-write never corrupts the
// existing index.
func (idx *Index) writeAtomic(content string) error {
	dir := filepath.Dir(idx.path)
	tmp, err := os.CreateTemp(dir, ".pkm-index-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp markdown index file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(content); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp markdown index file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp markdown index file: %w", err)
	}
	if err := os.Rename(tmpPath, idx.path); err != nil {
		return fmt.Errorf("rename markdown index into place: %w", err)
	}
	return nil
}

func (idx *Index) commitChange(ctx context.Context, url string) error {
	if err := idx.git.add(ctx, filepath.Base(idx.path)); err != nil {
		return fmt.Errorf("stage markdown index: %w", err)
	}
	changed, err := idx.git.hasChanges(ctx)
	if err != nil {
		return fmt.Errorf("check markdown index git status: %w", err)
	}
	if !changed {
		return nil
	}
	msg := "update index: " + url
	if err := idx.git.commit(ctx, msg); err != nil {
		return fmt.Errorf("commit markdown index: %w", err)
	}
	return nil
}

// ParseKey is exposed for tests and the inspector CLI, splitting a stored key
// back into its (url, load-time) pair.
func ParseKey(key string) (url string, loadedAt time.Time, ok bool) {
	parts := strings.SplitN(key, "|", 2)
	if len(parts) != 2 {
		return "", time.Time{}, false
	}
	ms, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return "", time.Time{}, false
	}
	return parts[0], time.UnixMilli(ms), true
}
