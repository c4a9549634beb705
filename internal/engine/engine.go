// Package engine ties the link graph components together: it scans the
// markdown root, keeps the in-memory graph current from change events,
// persists snapshots and serves the query/mutation surface.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/starford/mdlinks/internal/apperr"
	"github.com/starford/mdlinks/internal/coordinator"
	"github.com/starford/mdlinks/internal/graph"
	"github.com/starford/mdlinks/internal/models"
	"github.com/starford/mdlinks/internal/observability"
	"github.com/starford/mdlinks/internal/parser"
	"github.com/starford/mdlinks/internal/pathnorm"
	"github.com/starford/mdlinks/internal/snapshot"
	"github.com/starford/mdlinks/internal/storage"
	"github.com/starford/mdlinks/internal/validate"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultMetaDir      = ".mdgraph"
	DefaultSnapshotFile = "graph.json"
	DefaultScanWorkers  = 8
)

// Mirror receives a copy of the graph after every snapshot save.
type Mirror interface {
	Name() string
	Save(ctx context.Context, g *models.Graph) error
}

// Options configures an Engine.
type Options struct {
	Logger *slog.Logger
	Tracer trace.Tracer
	// Mirrors are updated after each save. Their failures are logged only.
	Mirrors []Mirror
	// Debounce is the per-path quiet period before a change is processed.
	Debounce time.Duration
	// ScanWorkers bounds concurrent file reads during a full rebuild.
	ScanWorkers int
	// SnapshotPath is the snapshot location relative to the root.
	SnapshotPath string
}

// RebuildResult summarises one full rebuild.
type RebuildResult struct {
	Files        int `json:"files"`
	ReadFailures int `json:"readFailures"`
	Nodes        int `json:"nodes"`
	Edges        int `json:"edges"`
	BrokenLinks  int `json:"brokenLinks"`
}

// Engine is the link graph facade.
type Engine struct {
	files   storage.Provider
	store   *graph.Store
	snap    *snapshot.Store
	coord   *coordinator.Coordinator
	mirrors []Mirror
	logger  *slog.Logger
	tracer  trace.Tracer
	workers int
	now     func() time.Time

	saveMu sync.Mutex
	ready  atomic.Bool

	// evMu orders event intake. Events that arrive before Start finishes
	// are held in early, latest per path, and replayed once the graph is
	// built.
	evMu    sync.Mutex
	started bool
	closed  bool
	early   map[string]coordinator.Event
	order   []string
}

// New creates an engine over files. Nothing is read until Start.
func New(files storage.Provider, opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(observability.TracerName)
	}
	if opts.ScanWorkers <= 0 {
		opts.ScanWorkers = DefaultScanWorkers
	}
	if opts.SnapshotPath == "" {
		opts.SnapshotPath = path.Join(DefaultMetaDir, DefaultSnapshotFile)
	}

	e := &Engine{
		files:   files,
		store:   graph.NewStore(),
		snap:    snapshot.NewStore(files, opts.SnapshotPath),
		mirrors: opts.Mirrors,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		workers: opts.ScanWorkers,
		now:     time.Now,
		early:   make(map[string]coordinator.Event),
	}
	e.coord = coordinator.New(e, opts.Debounce, opts.Logger)
	return e
}

// Start loads the previous snapshot, reconciles it with a full rescan,
// persists the result and then begins accepting change events. An unusable
// snapshot is discarded, never fatal.
func (e *Engine) Start(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "engine.start")
	defer span.End()

	prev, err := e.snap.Load()
	switch {
	case err == nil:
		e.store.Load(prev)
		e.logger.Info("snapshot loaded",
			slog.Int("nodes", len(prev.Nodes)), slog.Int("edges", len(prev.Edges)))
	case errors.Is(err, os.ErrNotExist):
		e.logger.Info("no snapshot found, building from scratch")
	case snapshot.IsInvalid(err):
		e.logger.Warn("discarding invalid snapshot",
			slog.String("path", e.snap.Path()), slog.String("error", err.Error()))
	default:
		e.logger.Warn("snapshot unreadable, building from scratch",
			slog.String("path", e.snap.Path()), slog.String("error", err.Error()))
	}

	if _, err := e.Rebuild(ctx); err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("engine: start: %w", err)
	}

	e.coord.Open()
	e.ready.Store(true)
	e.replayEarly()
	return nil
}

// replayEarly hands the events held back during Start to the coordinator,
// in arrival order.
func (e *Engine) replayEarly() {
	e.evMu.Lock()
	defer e.evMu.Unlock()

	e.started = true
	for _, p := range e.order {
		ev := e.early[p]
		if err := e.coord.Notify(ev); err != nil {
			e.logger.Warn("held event rejected",
				slog.String("path", ev.Path), slog.String("error", err.Error()))
		}
	}
	if len(e.order) > 0 {
		e.logger.Info("replayed events received during startup", slog.Int("paths", len(e.order)))
	}
	e.early, e.order = nil, nil
}

// Ready reports whether Start completed and Close has not been called.
func (e *Engine) Ready() bool {
	return e.ready.Load()
}

// Rebuild discards the graph and derives it again from a full scan of the
// root. Files that cannot be read keep their previous state.
func (e *Engine) Rebuild(ctx context.Context) (RebuildResult, error) {
	ctx, span := e.tracer.Start(ctx, "engine.rebuild")
	defer span.End()

	// Changes applied while files are being read win over what was read.
	since := e.store.Mark()
	entries, err := e.files.Scan()
	if err != nil {
		observability.RecordError(span, err)
		return RebuildResult{}, fmt.Errorf("engine: scan: %w", err)
	}

	extractions := make([]graph.FileExtraction, len(entries))
	var failures atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, entry := range entries {
		entry.Path = pathnorm.Normalize(entry.Path)
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ext, err := e.extract(entry)
			if err != nil {
				failures.Add(1)
				e.logger.Warn("file skipped during rebuild",
					slog.String("path", entry.Path), slog.String("error", err.Error()))
				ext = graph.FileExtraction{Entry: entry, Err: err}
			}
			extractions[i] = ext
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		observability.RecordError(span, err)
		return RebuildResult{}, fmt.Errorf("engine: rebuild: %w", err)
	}

	e.store.FullRebuild(since, extractions)
	snap := e.store.Snapshot()
	res := RebuildResult{
		Files:        len(entries),
		ReadFailures: int(failures.Load()),
		Nodes:        len(snap.Nodes),
		Edges:        len(snap.Edges),
		BrokenLinks:  len(snap.Metadata.BrokenLinks),
	}
	span.SetAttributes(
		observability.AttrFiles.Int(res.Files),
		observability.AttrFailures.Int(res.ReadFailures),
		observability.AttrNodes.Int(res.Nodes),
		observability.AttrEdges.Int(res.Edges),
		observability.AttrBroken.Int(res.BrokenLinks),
	)

	report := validate.Run(snap)
	e.logger.Info("graph rebuilt",
		slog.Int("files", res.Files),
		slog.Int("read_failures", res.ReadFailures),
		slog.Int("nodes", res.Nodes),
		slog.Int("edges", res.Edges),
		slog.Int("errors", len(report.Errors)),
		slog.Int("warnings", len(report.Warnings)),
	)

	e.persist(ctx)
	return res, nil
}

// Reconcile rescans the root to pick up changes the event stream missed,
// such as files moved along with a renamed directory.
func (e *Engine) Reconcile(ctx context.Context) error {
	_, err := e.Rebuild(ctx)
	return err
}

func (e *Engine) extract(entry models.ScanEntry) (graph.FileExtraction, error) {
	data, err := e.files.Read(entry.Path)
	if err != nil {
		return graph.FileExtraction{}, err
	}
	res, err := parser.Parse(entry.Path, data)
	if err != nil {
		return graph.FileExtraction{}, fmt.Errorf("parse %s: %w", entry.Path, err)
	}
	return graph.FileExtraction{
		Entry:    entry,
		Metadata: res.Metadata(entry.Size),
		Edges:    edgesOf(res.Links),
	}, nil
}

func edgesOf(links []models.Link) []models.Edge {
	edges := make([]models.Edge, 0, len(links))
	for _, l := range links {
		edges = append(edges, l.Edge())
	}
	return edges
}

// ProcessChange re-extracts path from content and replaces its outgoing
// edges. It is called by the coordinator once the path's debounce window
// has passed.
func (e *Engine) ProcessChange(ctx context.Context, path string, content []byte) error {
	ctx, span := e.tracer.Start(ctx, "engine.process_change",
		trace.WithAttributes(observability.AttrPath.String(path)))
	defer span.End()

	res, err := parser.Parse(path, content)
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("engine: parse %s: %w", path, err)
	}

	meta := res.Metadata(int64(len(content)))
	if entry, err := e.files.Stat(path); err == nil {
		meta.SizeBytes = entry.Size
		mod := entry.Modified.UTC()
		meta.ModifiedAt = &mod
	} else {
		mod := e.now().UTC()
		meta.ModifiedAt = &mod
	}

	n, err := e.store.ApplyFile(path, meta, edgesOf(res.Links))
	if err != nil {
		observability.RecordError(span, err)
		return fmt.Errorf("engine: apply %s: %w", path, err)
	}
	span.SetAttributes(observability.AttrEdges.Int(n))
	e.logger.Debug("file reprocessed", slog.String("path", path), slog.Int("edges", n))

	e.persist(ctx)
	return nil
}

// ProcessDelete marks path as missing and drops its outgoing edges.
func (e *Engine) ProcessDelete(ctx context.Context, path string) error {
	ctx, span := e.tracer.Start(ctx, "engine.process_delete",
		trace.WithAttributes(observability.AttrPath.String(path)))
	defer span.End()

	if !e.store.MarkNotExists(path) {
		return nil
	}
	e.logger.Debug("file removed", slog.String("path", path))
	e.persist(ctx)
	return nil
}

// HandleEvent normalises the event path and passes it to the coordinator.
// Events for non-markdown paths are ignored. Events received before Start
// completes are held and replayed after the initial build; after Close they
// are rejected with ErrNotReady.
func (e *Engine) HandleEvent(ev coordinator.Event) error {
	ev.Path = pathnorm.Normalize(ev.Path)
	if ev.Path == "" || !pathnorm.IsMarkdown(ev.Path) {
		return nil
	}

	e.evMu.Lock()
	defer e.evMu.Unlock()
	if e.closed {
		return fmt.Errorf("engine: %w", apperr.ErrNotReady)
	}
	if !e.started {
		if _, seen := e.early[ev.Path]; !seen {
			e.order = append(e.order, ev.Path)
		}
		e.early[ev.Path] = ev
		return nil
	}
	if err := e.coord.Notify(ev); err != nil {
		return fmt.Errorf("engine: %w", err)
	}
	return nil
}

// Notify is the change callback form: nil content signals deletion.
func (e *Engine) Notify(path string, content []byte) error {
	if content == nil {
		return e.HandleEvent(coordinator.Deleted(path))
	}
	return e.HandleEvent(coordinator.Changed(path, content))
}

// Pending returns the number of paths waiting out their debounce window.
func (e *Engine) Pending() int {
	return e.coord.Pending()
}

// persist saves a snapshot and updates the mirrors. Saves are serialised so
// a later graph state is never overwritten by an earlier one.
func (e *Engine) persist(ctx context.Context) {
	e.saveMu.Lock()
	defer e.saveMu.Unlock()

	ctx, span := e.tracer.Start(ctx, "engine.persist")
	defer span.End()

	g := e.store.Snapshot()
	if err := e.snap.Save(g); err != nil {
		observability.RecordError(span, err)
		e.logger.Warn("snapshot save failed", slog.String("error", err.Error()))
		return
	}
	for _, m := range e.mirrors {
		if err := m.Save(ctx, g); err != nil {
			span.AddEvent("mirror failed", trace.WithAttributes(attribute.String("mirror", m.Name())))
			e.logger.Warn("mirror update failed",
				slog.String("mirror", m.Name()), slog.String("error", err.Error()))
		}
	}
}

// Close stops accepting events, drains pending changes and writes a final
// snapshot. An engine that never started leaves the snapshot untouched.
func (e *Engine) Close(ctx context.Context) error {
	started := e.ready.Swap(false)
	e.evMu.Lock()
	e.closed = true
	e.early, e.order = nil, nil
	e.evMu.Unlock()
	err := e.coord.Close(ctx)
	if started {
		e.persist(context.WithoutCancel(ctx))
	}
	if err != nil {
		return fmt.Errorf("engine: close: %w", err)
	}
	return nil
}

func (e *Engine) requireReady() error {
	if !e.Ready() {
		return fmt.Errorf("engine: %w", apperr.ErrNotReady)
	}
	return nil
}
