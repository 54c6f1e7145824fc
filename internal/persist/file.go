// Package persist stores display settings on disk. FileStore is the load/save
// collaborator, Writer turns state revisions into debounced saves and Watcher
// feeds external edits back in as commands.
package persist

import (
	"bytes"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/BurntSushi/toml"

	"onairsync/internal/apperr"
	"onairsync/internal/settings"
)

// Saver is the save half of the persistence contract.
type Saver interface {
	Save(v settings.Values) error
}

// FileStore keeps settings in one TOML file, one table per section. It
// remembers the content it last read or wrote so Changes can tell external
// edits from its own saves.
type FileStore struct {
	path  string
	mu    sync.Mutex
	known settings.Values
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the settings file path.
func (f *FileStore) Path() string { return f.path }

// Load reads the file. A missing file yields empty values and no error.
func (f *FileStore) Load() (settings.Values, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, err := f.read()
	if err != nil {
		return nil, err
	}
	f.known = v.Clone()
	return v, nil
}

// Changes reads the file and returns the entries that differ from the
// content last read or written through this store. A file that still holds
// our own last save yields no entries.
func (f *FileStore) Changes() ([]settings.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, err := f.read()
	if err != nil {
		return nil, err
	}
	changed := f.known.Diff(v)
	f.known = v
	return changed, nil
}

func (f *FileStore) read() (settings.Values, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return settings.Values{}, nil
	}
	if err != nil {
		return nil, apperr.IOFailure(err, "read %s", f.path)
	}
	v := settings.Values{}
	if _, err := toml.Decode(string(data), &v); err != nil {
		return nil, apperr.IOFailure(err, "decode %s", f.path)
	}
	return v, nil
}

// Save writes v atomically through a temp file and rename.
func (f *FileStore) Save(v settings.Values) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(v); err != nil {
		return apperr.IOFailure(err, "encode settings")
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.IOFailure(err, "create %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(f.path)+".*")
	if err != nil {
		return apperr.IOFailure(err, "create temp file in %s", dir)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return apperr.IOFailure(err, "write %s", tmp.Name())
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return apperr.IOFailure(err, "sync %s", tmp.Name())
	}
	if err := tmp.Close(); err != nil {
		return apperr.IOFailure(err, "close %s", tmp.Name())
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return apperr.IOFailure(err, "chmod %s", tmp.Name())
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return apperr.IOFailure(err, "rename to %s", f.path)
	}
	f.known = v.Clone()
	return nil
}

// LoadMerged loads the file and overlays it on the schema defaults. Entries
// the schema rejects are returned as problems and fall back to defaults.
func (f *FileStore) LoadMerged(schema *settings.Schema) (settings.Values, []error, error) {
	loaded, err := f.Load()
	if err != nil {
		return schema.Defaults(), nil, err
	}
	merged, problems := schema.Merge(loaded)
	return merged, problems, nil
}
