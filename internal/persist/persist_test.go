package persist

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"onairsync/internal/apperr"
	"onairsync/internal/command"
	"onairsync/internal/dispatch"
	"onairsync/internal/logger"
	"onairsync/internal/settings"
	"onairsync/internal/state"
)

type recordingSaver struct {
	mu    sync.Mutex
	saves []settings.Values
	fail  int
}

func (r *recordingSaver) Save(v settings.Values) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail > 0 {
		r.fail--
		return apperr.IOFailure(errors.New("disk full"), "save")
	}
	r.saves = append(r.saves, v.Clone())
	return nil
}

func (r *recordingSaver) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *recordingSaver) last() settings.Values {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves[len(r.saves)-1]
}

func newRig(t *testing.T) (*settings.Schema, *dispatch.Dispatcher) {
	t.Helper()
	schema := settings.NewSchema(2, 2)
	store := state.NewStore(state.New(state.Layout{LEDs: 2, Timers: 2}, schema.Defaults()))
	return schema, dispatch.New(store, schema, logger.Discard())
}

func submit(t *testing.T, d *dispatch.Dispatcher, raw string) {
	t.Helper()
	_, err := d.Submit(context.Background(), []byte(raw), command.SourceHTTP)
	require.NoError(t, err)
}

func TestFileStoreRoundTrip(t *testing.T) {
	fs := NewFileStore(filepath.Join(t.TempDir(), "nested", "settings.toml"))

	v, err := fs.Load()
	require.NoError(t, err)
	assert.Empty(t, v)

	want := settings.Values{}
	want.Set("General", "stationname", `Radio "X"`)
	want.Set("LED1", "text", "ON AIR")
	require.NoError(t, fs.Save(want))

	got, err := fs.Load()
	require.NoError(t, err)
	assert.True(t, want.Equal(got))

	entries, err := os.ReadDir(filepath.Dir(fs.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	require.NoError(t, os.WriteFile(path, []byte("[General\nbroken"), 0o600))

	_, err := NewFileStore(path).Load()
	assert.ErrorIs(t, err, apperr.ErrIOFailure)
}

func TestLoadMergedFallsBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.toml")
	body := "[General]\nstationname = \"Radio X\"\nstationcolor = \"nope\"\nbogus = \"1\"\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	schema := settings.NewSchema(2, 2)
	v, problems, err := NewFileStore(path).LoadMerged(schema)
	require.NoError(t, err)
	assert.Len(t, problems, 2)
	assert.Equal(t, "Radio X", v.String("General", "stationname"))
	assert.Equal(t, schema.Defaults().String("General", "stationcolor"), v.String("General", "stationcolor"))
}

func TestWriterCoalescesBursts(t *testing.T) {
	_, d := newRig(t)
	saver := &recordingSaver{}
	w := NewWriter(d.Store(), saver, logger.Discard(), 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	<-w.Ready()

	submit(t, d, "CONF:General:stationname=A")
	submit(t, d, "CONF:General:stationname=B")
	submit(t, d, "NOW:not a setting")
	submit(t, d, "CONF:General:slogan=Hi")

	require.Eventually(t, func() bool { return saver.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	last := saver.last()
	assert.Equal(t, "B", last.String("General", "stationname"))
	assert.Equal(t, "Hi", last.String("General", "slogan"))

	// text changes never trigger a save
	submit(t, d, "NEXT:still not a setting")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, saver.count())

	cancel()
	require.NoError(t, <-done)
}

func TestWriterRetriesFailedSave(t *testing.T) {
	_, d := newRig(t)
	saver := &recordingSaver{fail: 1}
	w := NewWriter(d.Store(), saver, logger.Discard(), 30*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	<-w.Ready()

	submit(t, d, "CONF:General:stationname=Retry")
	require.Eventually(t, func() bool { return saver.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Retry", saver.last().String("General", "stationname"))

	cancel()
	require.NoError(t, <-done)
}

func TestWriterFlushesOnShutdown(t *testing.T) {
	_, d := newRig(t)
	saver := &recordingSaver{}
	w := NewWriter(d.Store(), saver, logger.Discard(), time.Hour, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	<-w.Ready()

	submit(t, d, "CONF:General:stationname=Final")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, saver.count())

	cancel()
	require.NoError(t, <-done)
	require.Equal(t, 1, saver.count())
	assert.Equal(t, "Final", saver.last().String("General", "stationname"))
}

// writeExternal replaces the file the way an editor would, bypassing the FileStore.
func writeExternal(t *testing.T, path string, v settings.Values) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, toml.NewEncoder(&buf).Encode(v))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestWatcherReloadDispatchesDiff(t *testing.T) {
	_, d := newRig(t)
	fs := NewFileStore(filepath.Join(t.TempDir(), "settings.toml"))
	w := NewWatcher(fs, d, logger.Discard())

	current := d.Store().Snapshot().Config.Clone()
	require.NoError(t, fs.Save(current))
	assert.Equal(t, 0, w.Reload(context.Background()))

	edited := current.Clone()
	edited.Set("General", "stationname", "Edited")
	edited.Set("LED1", "text", "MIC")
	edited.Set("General", "unknown", "x")
	writeExternal(t, fs.Path(), edited)

	assert.Equal(t, 2, w.Reload(context.Background()))
	st := d.Store().Snapshot()
	assert.Equal(t, "Edited", st.Config.String("General", "stationname"))
	assert.Equal(t, "MIC", st.LEDs[0].Label)

	// nothing changed on disk since the last read
	assert.Equal(t, 0, w.Reload(context.Background()))
}

func TestWatcherIgnoresOwnSave(t *testing.T) {
	_, d := newRig(t)
	fs := NewFileStore(filepath.Join(t.TempDir(), "settings.toml"))
	w := NewWatcher(fs, d, logger.Discard())

	submit(t, d, "CONF:General:stationname=First")
	require.NoError(t, fs.Save(d.Store().Snapshot().Config))

	// accepted after the save, not yet on disk
	submit(t, d, "CONF:General:slogan=Fresh")
	assert.Equal(t, 0, w.Reload(context.Background()))

	cfg := d.Store().Snapshot().Config
	assert.Equal(t, "First", cfg.String("General", "stationname"))
	assert.Equal(t, "Fresh", cfg.String("General", "slogan"))
}

func TestWatcherKeepsUnsavedChangesOnExternalEdit(t *testing.T) {
	_, d := newRig(t)
	fs := NewFileStore(filepath.Join(t.TempDir(), "settings.toml"))
	w := NewWatcher(fs, d, logger.Discard())
	require.NoError(t, fs.Save(d.Store().Snapshot().Config))

	submit(t, d, "CONF:General:slogan=Fresh")

	edited, err := fs.Load()
	require.NoError(t, err)
	edited.Set("General", "stationname", "From disk")
	writeExternal(t, fs.Path(), edited)

	assert.Equal(t, 1, w.Reload(context.Background()))
	cfg := d.Store().Snapshot().Config
	assert.Equal(t, "From disk", cfg.String("General", "stationname"))
	assert.Equal(t, "Fresh", cfg.String("General", "slogan"))
}

func TestWriterSaveDoesNotRevertLaterCommand(t *testing.T) {
	_, d := newRig(t)
	fs := NewFileStore(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, fs.Save(d.Store().Snapshot().Config))

	writer := NewWriter(d.Store(), fs, logger.Discard(), time.Second, 2*time.Second)
	watcher := NewWatcher(fs, d, logger.Discard())
	watcher.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = writer.Run(ctx) }()
	go func() { _ = watcher.Run(ctx) }()
	<-writer.Ready()
	time.Sleep(100 * time.Millisecond)

	submit(t, d, "CONF:General:stationname=First")
	require.Eventually(t, func() bool {
		data, err := os.ReadFile(fs.Path())
		return err == nil && bytes.Contains(data, []byte("First"))
	}, 5*time.Second, 20*time.Millisecond)

	submit(t, d, "CONF:General:slogan=Fresh")
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, "Fresh", d.Store().Snapshot().Config.String("General", "slogan"))
}

func TestWatcherPicksUpExternalEdit(t *testing.T) {
	_, d := newRig(t)
	fs := NewFileStore(filepath.Join(t.TempDir(), "settings.toml"))
	require.NoError(t, fs.Save(d.Store().Snapshot().Config))

	w := NewWatcher(fs, d, logger.Discard())
	w.debounce = 20 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	time.Sleep(100 * time.Millisecond)

	edited := d.Store().Snapshot().Config.Clone()
	edited.Set("General", "slogan", "From disk")
	writeExternal(t, fs.Path(), edited)

	require.Eventually(t, func() bool {
		return d.Store().Snapshot().Config.String("General", "slogan") == "From disk"
	}, 3*time.Second, 20*time.Millisecond)
}
