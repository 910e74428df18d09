// Package notify broadcasts committed word list snapshots to rendering
// surfaces.
//
// Each surface receives its own copy of the snapshot as an argument; there
// is no shared "current list". Surfaces render concurrently and a surface
// that fails or panics is logged and otherwise ignored.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/zeusync/wordsync/internal/core/events/bus"
	"github.com/zeusync/wordsync/internal/core/models"
	"github.com/zeusync/wordsync/internal/core/observability/log"
)

// EventSnapshotCommitted carries a models.Snapshot as its payload.
const EventSnapshotCommitted = "wordlist.committed"

type Surface interface {
	Name() string
	Render(ctx context.Context, snapshot models.Snapshot) error
}

type funcSurface struct {
	name string
	fn   func(ctx context.Context, snapshot models.Snapshot) error
}

func (s funcSurface) Name() string { return s.name }

func (s funcSurface) Render(ctx context.Context, snapshot models.Snapshot) error {
	return s.fn(ctx, snapshot)
}

// SurfaceFunc adapts a plain function to a Surface.
func SurfaceFunc(name string, fn func(ctx context.Context, snapshot models.Snapshot) error) Surface {
	return funcSurface{name: name, fn: fn}
}

type Option func(*Notifier)

// WithBus delivers over b instead of a private concurrent bus.
func WithBus(b bus.EventBus) Option {
	return func(n *Notifier) { n.bus = b }
}

// WithRenderTimeout bounds how long a single surface may take.
func WithRenderTimeout(d time.Duration) Option {
	return func(n *Notifier) { n.renderTimeout = d }
}

func WithSource(source string) Option {
	return func(n *Notifier) { n.source = source }
}

type Notifier struct {
	bus           bus.EventBus
	logger        log.Log
	renderTimeout time.Duration
	source        string

	wg sync.WaitGroup
}

func NewNotifier(logger log.Log, opts ...Option) *Notifier {
	n := &Notifier{
		logger: logger,
		source: "wordsync",
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.bus == nil {
		n.bus = bus.New(bus.WithConcurrentDelivery(0))
	}
	if n.logger == nil {
		n.logger = log.Provide()
	}
	return n
}

// Register adds a surface and returns the function that removes it.
func (n *Notifier) Register(surface Surface) (unregister func()) {
	sub, err := n.bus.Subscribe(EventSnapshotCommitted, func(ctx context.Context, event bus.Event) error {
		snapshot, ok := event.Data().(models.Snapshot)
		if !ok {
			return fmt.Errorf("surface %s: unexpected payload %T", surface.Name(), event.Data())
		}
		if n.renderTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, n.renderTimeout)
			defer cancel()
		}
		if err := surface.Render(ctx, snapshot.Clone()); err != nil {
			return fmt.Errorf("surface %s: %w", surface.Name(), err)
		}
		return nil
	})
	if err != nil {
		n.logger.Error("Failed to register surface", log.String("surface", surface.Name()), log.Error(err))
		return func() {}
	}

	n.logger.Debug("Surface registered", log.String("surface", surface.Name()))
	return func() { _ = sub.Cancel() }
}

// Surfaces reports how many surfaces are registered.
func (n *Notifier) Surfaces() int {
	return n.bus.Subscribers(EventSnapshotCommitted)
}

// Notify hands snapshot to every surface in the background and returns
// immediately. Cancelling ctx afterwards does not stop delivery.
func (n *Notifier) Notify(ctx context.Context, snapshot models.Snapshot) {
	event := n.event(snapshot)
	ctx = context.WithoutCancel(ctx)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.bus.Publish(ctx, event); err != nil {
			n.logger.WithContext(ctx).Warn("Surface delivery failed", log.Error(err))
		}
	}()
}

// NotifyWait delivers synchronously and returns the joined surface errors.
// The caller decides whether they matter; the snapshot is unaffected.
func (n *Notifier) NotifyWait(ctx context.Context, snapshot models.Snapshot) error {
	return n.bus.Publish(ctx, n.event(snapshot))
}

// Wait blocks until every background delivery started by Notify is done.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) event(snapshot models.Snapshot) bus.Event {
	return bus.NewEvent(EventSnapshotCommitted, n.source, snapshot.Clone(), map[string]any{
		"entries": len(snapshot),
		"hash":    snapshot.Fingerprint(),
	})
}
