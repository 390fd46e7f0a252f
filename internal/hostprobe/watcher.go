package hostprobe

import (
	"context"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tarekazabou/sentineld/internal/events"
)

// FsnotifyWatcher implements DirectoryWatcher on top of fsnotify, adding
// a watch for every subdirectory discovered at start time when recursive
// is requested. fsnotify does not recurse on its own, so new
// subdirectories created after startup are picked up lazily: a Create
// event for a directory triggers an additional AddWatch call.
type FsnotifyWatcher struct{}

// NewFsnotifyWatcher returns a ready-to-use DirectoryWatcher.
func NewFsnotifyWatcher() *FsnotifyWatcher {
	return &FsnotifyWatcher{}
}

func (w *FsnotifyWatcher) Watch(ctx context.Context, root string, recursive bool) (<-chan events.FsEvent, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if recursive {
		_ = filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil || info == nil || !info.IsDir() {
				return nil
			}
			_ = watcher.Add(path)
			return nil
		})
	} else {
		if err := watcher.Add(root); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	out := make(chan events.FsEvent, 256)

	go func() {
		defer close(out)
		defer watcher.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				fsEvent, ok := translate(ev)
				if !ok {
					continue
				}
				if recursive && ev.Op&fsnotify.Create != 0 {
					if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
						_ = watcher.Add(ev.Name)
						fsEvent.IsDir = true
					}
				}
				select {
				case out <- fsEvent:
				case <-ctx.Done():
					return
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return out, nil
}

func translate(ev fsnotify.Event) (events.FsEvent, bool) {
	var kind events.FsEventKind
	switch {
	case ev.Op&fsnotify.Create != 0:
		kind = events.FsCreated
	case ev.Op&fsnotify.Write != 0:
		kind = events.FsModified
	case ev.Op&fsnotify.Rename != 0:
		kind = events.FsMoved
	case ev.Op&fsnotify.Remove != 0:
		kind = events.FsDeleted
	default:
		return events.FsEvent{}, false
	}

	info, statErr := os.Stat(ev.Name)
	isDir := statErr == nil && info.IsDir()

	return events.FsEvent{
		Kind:    kind,
		SrcPath: ev.Name,
		IsDir:   isDir,
	}, true
}
