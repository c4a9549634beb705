package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/starford/mdlinks/internal/coordinator"
	"github.com/starford/mdlinks/internal/testutil"
)

type recordingSink struct {
	mu         sync.Mutex
	events     []coordinator.Event
	reconciles int
}

func (s *recordingSink) HandleEvent(ev coordinator.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) Reconcile(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciles++
	return nil
}

func (s *recordingSink) has(fn func(coordinator.Event) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.events {
		if fn(ev) {
			return true
		}
	}
	return false
}

func (s *recordingSink) reconcileCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reconciles
}

func startWatcher(t *testing.T) (string, *recordingSink) {
	t.Helper()
	root, fs := testutil.TestRoot(t)
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, sink, fs, root, testutil.Logger())
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	time.Sleep(100 * time.Millisecond)
	return root, sink
}

func changed(path, content string) func(coordinator.Event) bool {
	return func(ev coordinator.Event) bool {
		return !ev.Deleted && ev.Path == path && string(ev.Content) == content
	}
}

func deleted(path string) func(coordinator.Event) bool {
	return func(ev coordinator.Event) bool {
		return ev.Deleted && ev.Path == path
	}
}

func TestWatcher_NewFileEmitsChange(t *testing.T) {
	root, sink := startWatcher(t)

	_ = os.WriteFile(filepath.Join(root, "new.md"), []byte("[[other]]"), 0o644)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond,
		func() bool { return sink.has(changed("new.md", "[[other]]")) },
		"expected change event for new.md")
}

func TestWatcher_IgnoresNonMarkdownAndHidden(t *testing.T) {
	root, sink := startWatcher(t)

	_ = os.WriteFile(filepath.Join(root, "image.png"), []byte("x"), 0o644)
	_ = os.MkdirAll(filepath.Join(root, ".git"), 0o755)
	_ = os.WriteFile(filepath.Join(root, ".git", "x.md"), []byte("x"), 0o644)
	_ = os.MkdirAll(filepath.Join(root, testutil.MetaDir), 0o755)
	_ = os.WriteFile(filepath.Join(root, testutil.MetaDir, "graph.md"), []byte("x"), 0o644)
	_ = os.WriteFile(filepath.Join(root, "marker.md"), []byte("m"), 0o644)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond,
		func() bool { return sink.has(changed("marker.md", "m")) },
		"marker event never arrived")

	if sink.has(func(ev coordinator.Event) bool { return ev.Path != "marker.md" }) {
		t.Fatal("events reported for ignored paths")
	}
}

func TestWatcher_NewDirWatched(t *testing.T) {
	root, sink := startWatcher(t)

	subDir := filepath.Join(root, "subdir")
	_ = os.MkdirAll(subDir, 0o755)
	time.Sleep(100 * time.Millisecond)

	_ = os.WriteFile(filepath.Join(subDir, "deep.md"), []byte("# Deep"), 0o644)

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond,
		func() bool { return sink.has(changed("subdir/deep.md", "# Deep")) },
		"file in new subdir not reported by watcher")
}

func TestWatcher_DeleteEmitsDeletion(t *testing.T) {
	root, sink := startWatcher(t)
	testutil.WriteFile(t, root, "del.md", "# Delete Me")
	time.Sleep(100 * time.Millisecond)

	_ = os.Remove(filepath.Join(root, "del.md"))

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond,
		func() bool { return sink.has(deleted("del.md")) },
		"deletion not reported")
}

func TestWatcher_RenameFile(t *testing.T) {
	root, sink := startWatcher(t)
	testutil.WriteFile(t, root, "old.md", "# Rename")
	time.Sleep(100 * time.Millisecond)

	_ = os.Rename(filepath.Join(root, "old.md"), filepath.Join(root, "renamed.md"))

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond, func() bool {
		return sink.has(deleted("old.md")) && sink.has(changed("renamed.md", "# Rename"))
	}, "rename should delete the old path and report the new one")
}

func TestWatcher_RenameDirReconciles(t *testing.T) {
	root, sink := startWatcher(t)
	testutil.WriteFile(t, root, "docs/a.md", "a")
	time.Sleep(200 * time.Millisecond)

	_ = os.Rename(filepath.Join(root, "docs"), filepath.Join(root, "archive"))

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond,
		func() bool { return sink.reconcileCount() > 0 },
		"directory rename should trigger reconciliation")
}

func TestWatcher_ReportsChangesMadeBeforeRun(t *testing.T) {
	root, fs := testutil.TestRoot(t)
	sink := &recordingSink{}

	w, err := New(fs, root, testutil.Logger())
	if err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(filepath.Join(root, "early.md"), []byte("[[x]]"), 0o644)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx, sink)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	testutil.Eventually(t, 5*time.Second, 50*time.Millisecond,
		func() bool { return sink.has(changed("early.md", "[[x]]")) },
		"change made between New and Run was lost")
}
