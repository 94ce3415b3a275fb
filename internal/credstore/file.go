package credstore

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gofrs/flock"

	"github.com/basecamp/authgate/internal/logging"
)

const (
	// FileName is the name of the plaintext session file.
	FileName = "credentials.json"

	// LockTimeout bounds how long a write waits for the cross-process lock.
	// Past it the write proceeds unlocked rather than hanging the CLI.
	LockTimeout = 100 * time.Millisecond
)

// FileBackend stores all values in a single JSON file, written atomically and
// guarded by a lock file so several processes can share one session.
type FileBackend struct {
	dir string
}

// NewFileBackend creates a file backend rooted at dir.
func NewFileBackend(dir string) *FileBackend {
	return &FileBackend{dir: dir}
}

// Path returns the full path to the session file.
func (f *FileBackend) Path() string {
	return filepath.Join(f.dir, FileName)
}

func (f *FileBackend) lockPath() string {
	return filepath.Join(f.dir, ".lock")
}

func (f *FileBackend) Load(key string) (string, error) {
	all, err := f.readAll()
	if err != nil {
		return "", err
	}
	v, ok := all[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (f *FileBackend) Save(key, value string) error {
	return f.update(func(all map[string]string) {
		all[key] = value
	})
}

func (f *FileBackend) Delete(key string) error {
	return f.update(func(all map[string]string) {
		delete(all, key)
	})
}

// update applies fn to the file contents under the cross-process lock.
func (f *FileBackend) update(fn func(map[string]string)) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return err
	}

	fl := flock.New(f.lockPath())
	ctx, cancel := context.WithTimeout(context.Background(), LockTimeout)
	defer cancel()

	locked, err := fl.TryLockContext(ctx, 10*time.Millisecond)
	if err != nil && ctx.Err() != context.DeadlineExceeded {
		return err
	}
	if locked {
		defer func() { _ = fl.Unlock() }()
	}

	all, err := f.readAll()
	if err != nil {
		return err
	}
	fn(all)
	return f.writeAll(all)
}

func (f *FileBackend) readAll() (map[string]string, error) {
	data, err := os.ReadFile(f.Path())
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}

	all := make(map[string]string)
	if err := json.Unmarshal(data, &all); err != nil {
		// A corrupt file reads as empty; the next write replaces it.
		return make(map[string]string), nil
	}
	return all, nil
}

func (f *FileBackend) writeAll(all map[string]string) error {
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(f.dir, "credentials-*.json.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Chmod(0600); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}

	destPath := f.Path()
	if err := os.Rename(tmpPath, destPath); err != nil {
		if runtime.GOOS == "windows" {
			_ = os.Remove(destPath)
			return os.Rename(tmpPath, destPath)
		}
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// Watch calls onChange whenever the session file is replaced or written,
// until ctx is done. It watches the directory so atomic renames are seen.
func (f *FileBackend) Watch(ctx context.Context, onChange func()) error {
	if err := os.MkdirAll(f.dir, 0700); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(f.dir); err != nil {
		watcher.Close()
		return err
	}

	logger := logging.For("store")
	target := filepath.Clean(f.Path())

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove) {
					onChange()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.WithError(err).Warn("session file watch error")
			}
		}
	}()
	return nil
}
