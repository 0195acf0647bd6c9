package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventTypeString(t *testing.T) {
	testCases := []struct {
		eventType EventType
		expected  string
	}{
		{EventTypeCreated, "created"},
		{EventTypeModified, "modified"},
		{EventTypeDeleted, "deleted"},
		{EventTypeRenamed, "renamed"},
		{EventType(42), "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.eventType.String())
		})
	}
}

func TestFilters(t *testing.T) {
	tests := []struct {
		name   string
		filter FileFilter
		path   string
		want   bool
	}{
		{"typst source", TypstFilter, "main.typ", true},
		{"typst upper case", TypstFilter, "MAIN.TYP", true},
		{"typst rejects json", TypstFilter, "data.json", false},
		{"input accepts json", InputFilter, "data/vars.json", true},
		{"input accepts hcl", InputFilter, "vars.hcl", true},
		{"input rejects pdf", InputFilter, "out.pdf", false},
		{"hidden dir", NoHiddenFilter, ".git/config", false},
		{"hidden file", NoHiddenFilter, "chapters/.main.typ.swp", false},
		{"visible", NoHiddenFilter, "chapters/one.typ", true},
		{"parent ref is not hidden", NoHiddenFilter, "../x.typ", true},
		{"backup", NoBackupFilter, "main.typ~", false},
		{"not backup", NoBackupFilter, "main.typ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter(tt.path))
		})
	}
}

func TestCoalesce(t *testing.T) {
	events := coalesce([]ChangeEvent{
		{Type: EventTypeCreated, Path: "/b.typ"},
		{Type: EventTypeModified, Path: "/a.typ"},
		{Type: EventTypeModified, Path: "/b.typ"},
		{Type: EventTypeDeleted, Path: "/a.typ"},
	})

	require.Len(t, events, 2)
	assert.Equal(t, "/a.typ", events[0].Path)
	assert.Equal(t, EventTypeDeleted, events[0].Type)
	assert.Equal(t, "/b.typ", events[1].Path)
	assert.Equal(t, EventTypeModified, events[1].Type)
}

func TestDebouncerGroupsBursts(t *testing.T) {
	d := newDebouncer(30 * time.Millisecond)
	for i := 0; i < 5; i++ {
		d.add(ChangeEvent{Type: EventTypeModified, Path: "/main.typ"})
	}
	d.add(ChangeEvent{Type: EventTypeCreated, Path: "/data.json"})

	select {
	case batch := <-d.output:
		require.Len(t, batch, 2)
		assert.Equal(t, "/data.json", batch[0].Path)
		assert.Equal(t, "/main.typ", batch[1].Path)
	case <-time.After(2 * time.Second):
		t.Fatal("debouncer never flushed")
	}

	select {
	case batch := <-d.output:
		t.Fatalf("unexpected second batch %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncerStopDropsPending(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	d.add(ChangeEvent{Path: "/main.typ"})
	d.stop()

	select {
	case batch := <-d.output:
		t.Fatalf("unexpected batch after stop %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAddPathOutsideRoot(t *testing.T) {
	root := t.TempDir()
	fw, err := New(root, 10*time.Millisecond, nil)
	require.NoError(t, err)
	defer fw.Stop()

	assert.Error(t, fw.AddPath(filepath.Dir(root)))
	assert.Error(t, fw.AddPath("../elsewhere"))
	assert.NoError(t, fw.AddPath("."))
}

func startWatcher(t *testing.T, root string) <-chan []ChangeEvent {
	t.Helper()
	fw, err := New(root, 50*time.Millisecond, nil)
	require.NoError(t, err)

	fw.AddFilter(NoHiddenFilter)
	fw.AddFilter(TypstFilter)

	batches := make(chan []ChangeEvent, 16)
	fw.AddHandler(func(_ context.Context, events []ChangeEvent) error {
		batches <- events
		return nil
	})
	require.NoError(t, fw.AddRecursive(root))

	ctx, cancel := context.WithCancel(context.Background())
	fw.Start(ctx)
	t.Cleanup(func() {
		cancel()
		_ = fw.Stop()
	})
	return batches
}

// waitFor rewrites path until a batch mentioning it arrives.
func waitFor(t *testing.T, batches <-chan []ChangeEvent, path string) []ChangeEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(100 * time.Millisecond)
	defer tick.Stop()

	require.NoError(t, os.WriteFile(path, []byte("= Title"), 0o644))
	for {
		select {
		case batch := <-batches:
			for _, ev := range batch {
				if ev.Path == path {
					return batch
				}
			}
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("= Title\nmore"), 0o644))
		case <-deadline:
			t.Fatalf("no change reported for %s", path)
		}
	}
}

func TestWatcherReportsSourceChanges(t *testing.T) {
	root := t.TempDir()
	main := filepath.Join(root, "main.typ")
	require.NoError(t, os.WriteFile(main, []byte("x"), 0o644))
	batches := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "notes.txt"), []byte("ignored"), 0o644))
	batch := waitFor(t, batches, main)

	for _, ev := range batch {
		assert.Equal(t, ".typ", filepath.Ext(ev.Path))
	}
}

func TestWatcherFollowsNewDirectories(t *testing.T) {
	root := t.TempDir()
	batches := startWatcher(t, root)

	dir := filepath.Join(root, "chapters")
	require.NoError(t, os.Mkdir(dir, 0o755))

	batch := waitFor(t, batches, filepath.Join(dir, "one.typ"))
	assert.NotEmpty(t, batch)
}
