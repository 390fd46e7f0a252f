// Package file implements the File Collector: it subscribes to
// directory watches via the Host Probe, classifies each change by
// sensitivity, and forwards sensitive events into the pipeline while
// persisting every raw event unconditionally.
package file

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/events"
	"github.com/tarekazabou/sentineld/internal/hostprobe"
	"github.com/tarekazabou/sentineld/internal/logging"
	"github.com/tarekazabou/sentineld/internal/metrics"
)

const (
	internalQueueCapacity = 1024
	preliminaryRisk       = 30
)

// Persister is the subset of *store.Store the collector writes to
// unconditionally, independent of whether a pipeline event is emitted.
type Persister interface {
	AddFileEvent(path, eventType string, sensitive bool, destPath string) error
}

// Emitter matches dispatcher.Dispatcher's Submit method.
type Emitter interface {
	Submit(ev events.MonitorEvent)
}

// Collector watches a set of folders and classifies each change.
type Collector struct {
	watcher    hostprobe.DirectoryWatcher
	folders    []string
	extensions []string
	store      Persister
	emitter    Emitter
	metrics    *metrics.Metrics
	log        *logrus.Logger
	once       *logging.Once

	mu      sync.Mutex
	dropped uint64
}

// New builds a Collector over the configured folders and sensitive
// extensions (lower-cased once here so classification is a cheap
// suffix check per event).
func New(watcher hostprobe.DirectoryWatcher, folders, extensions []string, store Persister, emitter Emitter, m *metrics.Metrics, log *logrus.Logger) *Collector {
	lower := make([]string, len(extensions))
	for i, e := range extensions {
		lower[i] = strings.ToLower(e)
	}
	return &Collector{
		watcher: watcher, folders: folders, extensions: lower,
		store: store, emitter: emitter, metrics: m, log: log,
		once: logging.NewOnce(),
	}
}

// Run subscribes to every configured folder and drains each watch
// channel through a shared bounded internal queue until ctx is
// canceled.
func (c *Collector) Run(ctx context.Context) error {
	queue := make(chan events.FsEvent, internalQueueCapacity)
	var wg sync.WaitGroup

	for _, folder := range c.folders {
		ch, err := c.watcher.Watch(ctx, folder, true)
		if err != nil {
			if c.log != nil {
				c.log.WithError(err).WithField("folder", folder).Warn("file collector: failed to watch folder")
			}
			continue
		}
		wg.Add(1)
		go func(ch <-chan events.FsEvent) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case ev, ok := <-ch:
					if !ok {
						return
					}
					c.enqueue(queue, ev)
				}
			}
		}(ch)
	}

	go func() {
		wg.Wait()
		close(queue)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-queue:
			if !ok {
				return nil
			}
			c.handle(ev)
		}
	}
}

// enqueue is drop-oldest bounded: if the internal queue is full, the
// oldest queued event is evicted and a watch_overflow warning is logged
// at most once per minute.
func (c *Collector) enqueue(queue chan events.FsEvent, ev events.FsEvent) {
	select {
	case queue <- ev:
		return
	default:
	}

	select {
	case <-queue:
		c.mu.Lock()
		c.dropped++
		c.mu.Unlock()
	default:
	}
	select {
	case queue <- ev:
	default:
	}

	if c.once.Allow("watch_overflow", time.Minute) && c.log != nil {
		c.log.Warn("file collector: internal queue overflowed, oldest events dropped")
	}
}

func (c *Collector) handle(ev events.FsEvent) {
	if ev.IsDir {
		return
	}

	sensitive := c.isSensitive(ev.SrcPath)
	if ev.Kind == events.FsMoved {
		sensitive = sensitive || c.isSensitive(ev.DestPath)
	}

	eventType := string(ev.Kind)
	if c.store != nil {
		if err := c.store.AddFileEvent(ev.SrcPath, eventType, sensitive, ev.DestPath); err != nil && c.log != nil {
			c.log.WithError(err).Error("file collector: failed to persist raw event")
		}
	}

	if !sensitive {
		if c.log != nil {
			c.log.WithField("path", ev.SrcPath).Debug("file collector: non-sensitive event")
		}
		return
	}

	kind := fsKindToPipelineKind(ev.Kind)
	c.emitter.Submit(events.MonitorEvent{
		Source: events.SourceFile,
		Kind:   kind,
		Payload: events.PayloadFile{
			FilePath: ev.SrcPath, EventType: eventType, IsSensitive: true, DestPath: ev.DestPath,
		},
		PreliminaryRisk: preliminaryRisk,
	})
}

func (c *Collector) isSensitive(path string) bool {
	if path == "" {
		return false
	}
	lower := strings.ToLower(path)
	for _, ext := range c.extensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}

func fsKindToPipelineKind(k events.FsEventKind) string {
	switch k {
	case events.FsCreated:
		return events.KindFileCreated
	case events.FsModified:
		return events.KindFileModified
	case events.FsMoved:
		return events.KindFileMoved
	case events.FsDeleted:
		return events.KindFileDeleted
	}
	return string(k)
}

// Dropped returns the number of events evicted by the internal queue's
// backpressure so far.
func (c *Collector) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}
