// Package coordinator turns a stream of per-file change notifications into
// debounced graph updates.
//
// Each tracked path moves through Idle → Pending(timer) → Processing → Idle.
// Change events restart the path's timer and only the content of the most
// recent event is ever processed. Deletions cancel any pending timer and are
// processed at once. Timers for different paths are independent.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/starford/mdlinks/internal/apperr"
)

// DefaultDebounce is the quiet period after the last change to a path before
// it is reprocessed.
const DefaultDebounce = 3 * time.Second

// Processor applies a settled change to the graph.
type Processor interface {
	ProcessChange(ctx context.Context, path string, content []byte) error
	ProcessDelete(ctx context.Context, path string) error
}

// Event is one change notification. Deleted events carry no content.
type Event struct {
	Path    string
	Content []byte
	Deleted bool
}

// Changed returns a change event for path with its new content.
func Changed(path string, content []byte) Event {
	return Event{Path: path, Content: content}
}

// Deleted returns a deletion event for path.
func Deleted(path string) Event {
	return Event{Path: path, Deleted: true}
}

type pathState struct {
	timer   *time.Timer
	epoch   uint64
	content []byte

	// processing serialises work for this path.
	processing sync.Mutex
}

// Coordinator owns the per-path debounce timers.
type Coordinator struct {
	proc     Processor
	debounce time.Duration
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	open  bool
	paths map[string]*pathState
	wg    sync.WaitGroup
}

// New creates a coordinator. It rejects events until Open is called.
func New(proc Processor, debounce time.Duration, logger *slog.Logger) *Coordinator {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		proc:     proc,
		debounce: debounce,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		paths:    make(map[string]*pathState),
	}
}

// Open starts accepting events.
func (c *Coordinator) Open() {
	c.mu.Lock()
	c.open = true
	c.mu.Unlock()
}

// Notify feeds one event into the coordinator. Change events return
// immediately; deletion events return once the deletion has been applied.
func (c *Coordinator) Notify(ev Event) error {
	if ev.Path == "" {
		return fmt.Errorf("coordinator: empty path")
	}

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: %w", apperr.ErrNotReady)
	}
	st, ok := c.paths[ev.Path]
	if !ok {
		st = &pathState{}
		c.paths[ev.Path] = st
	}
	st.epoch++
	epoch := st.epoch
	c.stopTimer(st)

	if !ev.Deleted {
		st.content = ev.Content
		c.wg.Add(1)
		st.timer = time.AfterFunc(c.debounce, func() { c.fire(ev.Path, st, epoch) })
		c.mu.Unlock()
		return nil
	}

	st.content = nil
	c.wg.Add(1)
	c.mu.Unlock()

	defer c.wg.Done()
	st.processing.Lock()
	defer st.processing.Unlock()

	c.logger.Debug("processing deletion", slog.String("path", ev.Path))
	err := c.proc.ProcessDelete(c.ctx, ev.Path)
	c.release(ev.Path, st, epoch)
	if err != nil {
		return fmt.Errorf("coordinator: delete %s: %w", ev.Path, err)
	}
	return nil
}

// stopTimer cancels st's pending timer. c.mu must be held.
func (c *Coordinator) stopTimer(st *pathState) {
	if st.timer == nil {
		return
	}
	if st.timer.Stop() {
		c.wg.Done()
	}
	st.timer = nil
}

func (c *Coordinator) fire(path string, st *pathState, epoch uint64) {
	defer c.wg.Done()

	st.processing.Lock()
	defer st.processing.Unlock()

	c.mu.Lock()
	if st.epoch != epoch {
		// Superseded by a later change or a deletion.
		c.mu.Unlock()
		return
	}
	content := st.content
	st.timer = nil
	c.mu.Unlock()

	c.logger.Debug("processing change", slog.String("path", path), slog.Int("bytes", len(content)))
	if err := c.proc.ProcessChange(c.ctx, path, content); err != nil {
		c.logger.Warn("change processing failed", slog.String("path", path), slog.String("error", err.Error()))
	}
	c.release(path, st, epoch)
}

// release forgets the path once nothing newer is pending for it.
func (c *Coordinator) release(path string, st *pathState, epoch uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st.epoch == epoch && st.timer == nil && c.paths[path] == st {
		delete(c.paths, path)
	}
}

// Pending returns the number of paths with a debounce timer running.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, st := range c.paths {
		if st.timer != nil {
			n++
		}
	}
	return n
}

// Close stops accepting events, processes every pending change without
// waiting out its debounce window, and waits for in-flight work. It returns
// ctx.Err() if ctx ends first.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()
	c.open = false
	for path, st := range c.paths {
		if st.timer != nil && st.timer.Stop() {
			st.timer = nil
			go c.fire(path, st, st.epoch)
		}
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	defer c.cancel()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("coordinator: drain: %w", ctx.Err())
	}
}
