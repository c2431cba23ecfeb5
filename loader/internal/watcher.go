package internal

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"fapchat/logger"
	ltypes "fapchat/loader/types"
)

// Watcher polls the drop folder and hands over files that have stayed put
// for MonitoringTime.
type Watcher struct {
	cfg  ltypes.Config
	log  *logger.Logger
	tick time.Duration
	now  func() time.Time

	mu         sync.Mutex
	firstSeen  map[string]time.Time
	processing map[string]bool
}

func NewWatcher(cfg ltypes.Config, log *logger.Logger) (*Watcher, error) {
	if log == nil {
		log = logger.Nop()
	}
	if err := CreateDirectories(cfg); err != nil {
		return nil, err
	}
	return &Watcher{
		cfg:        cfg,
		log:        log,
		tick:       time.Second,
		now:        time.Now,
		firstSeen:  make(map[string]time.Time),
		processing: make(map[string]bool),
	}, nil
}

func CreateDirectories(cfg ltypes.Config) error {
	for _, dir := range []string{cfg.SourceDir, cfg.ArchiveDir, cfg.BadDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// Watch sends ready files to out until ctx is done. Callers report back
// with Done once a file has been handled.
func (w *Watcher) Watch(ctx context.Context, out chan<- string) {
	w.log.Info("start monitoring folder", "dir", w.cfg.SourceDir)
	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("file watcher stopped")
			return
		case <-ticker.C:
			for _, path := range w.Scan() {
				select {
				case out <- path:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// Scan runs one poll and returns the files that became ready.
func (w *Watcher) Scan() []string {
	entries, err := os.ReadDir(w.cfg.SourceDir)
	if err != nil {
		w.log.Error("read source directory", "dir", w.cfg.SourceDir, "err", err)
		return nil
	}

	now := w.now()
	current := make(map[string]bool, len(entries))
	var ready []string

	w.mu.Lock()
	defer w.mu.Unlock()
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		path := filepath.Join(w.cfg.SourceDir, e.Name())
		current[path] = true
		if w.processing[path] {
			continue
		}
		first, seen := w.firstSeen[path]
		if !seen {
			w.firstSeen[path] = now
			w.log.Debug("new file detected", "path", path)
			continue
		}
		if now.Sub(first) >= w.cfg.MonitoringTime {
			w.processing[path] = true
			ready = append(ready, path)
		}
	}
	for path := range w.firstSeen {
		if !current[path] {
			delete(w.firstSeen, path)
			delete(w.processing, path)
		}
	}
	return ready
}

// Done forgets path so a new file under the same name is picked up again.
func (w *Watcher) Done(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.processing, path)
	delete(w.firstSeen, path)
}

// ParseDropName reads "<owner>__<kind>.csv". An owner of "shared" or an
// empty owner means shared records.
func ParseDropName(path string) (string, ltypes.Kind, error) {
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	owner, kindName, ok := strings.Cut(base, "__")
	if !ok {
		return "", "", fmt.Errorf("file name %q is not <owner>__<kind>.csv", filepath.Base(path))
	}
	kind, err := ltypes.ParseKind(kindName)
	if err != nil {
		return "", "", err
	}
	if strings.EqualFold(owner, "shared") {
		owner = ""
	}
	return owner, kind, nil
}

// MoveToArchive moves path under a dated folder of the archive, or of the
// bad folder when failed. Name clashes get a numeric suffix.
func (w *Watcher) MoveToArchive(path string, failed bool) (string, error) {
	root := w.cfg.ArchiveDir
	if failed {
		root = w.cfg.BadDir
	}
	destDir := filepath.Join(root, w.now().Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	dest := filepath.Join(destDir, filepath.Base(path))
	ext := filepath.Ext(dest)
	stem := strings.TrimSuffix(filepath.Base(dest), ext)
	for n := 1; ; n++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = filepath.Join(destDir, fmt.Sprintf("%s_%d%s", stem, n, ext))
	}

	if err := os.Rename(path, dest); err == nil {
		return dest, nil
	}
	// Rename fails across devices; fall back to copy and remove.
	if err := copyFile(path, dest); err != nil {
		return "", fmt.Errorf("move to archive: %w", err)
	}
	if err := os.Remove(path); err != nil {
		return dest, fmt.Errorf("remove source: %w", err)
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
