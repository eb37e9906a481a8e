package driver

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchOp is a bitmask of file events that trigger a rebuild.
type WatchOp uint8

const (
	OpCreate WatchOp = 1 << iota
	OpWrite
	OpRemove
	OpRename
)

// Event is a filesystem change for one watched input.
type Event struct {
	Path string
	Op   WatchOp
}

// fileWatcher turns fsnotify notifications on the directories of a set of
// inputs into Events for those inputs. Directories are watched rather than
// files so that editors that replace a file by rename keep being tracked.
type fileWatcher struct {
	w      *fsnotify.Watcher
	inputs map[string]string // cleaned absolute path -> path as given
	evC    chan Event
	erC    chan error
	done   chan struct{}
}

func newFileWatcher(paths []string) (*fileWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	fw := &fileWatcher{w: w, inputs: map[string]string{}, evC: make(chan Event, 128), erC: make(chan error, 1), done: make(chan struct{})}
	dirs := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			w.Close()
			return nil, err
		}
		fw.inputs[abs] = p
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		dirs[dir] = true
		if err := w.Add(dir); err != nil {
			w.Close()
			return nil, err
		}
	}
	go fw.loop()
	return fw, nil
}

func (fw *fileWatcher) loop() {
	defer close(fw.evC)
	for {
		select {
		case ev, ok := <-fw.w.Events:
			if !ok {
				return
			}
			path, tracked := fw.inputs[filepath.Clean(ev.Name)]
			if !tracked {
				continue
			}
			var op WatchOp
			if ev.Op&fsnotify.Create != 0 {
				op |= OpCreate
			}
			if ev.Op&fsnotify.Write != 0 {
				op |= OpWrite
			}
			if ev.Op&fsnotify.Remove != 0 {
				op |= OpRemove
			}
			if ev.Op&fsnotify.Rename != 0 {
				op |= OpRename
			}
			if op == 0 {
				continue
			}
			select {
			case fw.evC <- Event{Path: path, Op: op}:
			case <-fw.done:
				return
			}
		case err, ok := <-fw.w.Errors:
			if !ok {
				return
			}
			select {
			case fw.erC <- err:
			default:
			}
		}
	}
}

func (fw *fileWatcher) Events() <-chan Event { return fw.evC }
func (fw *fileWatcher) Errors() <-chan error { return fw.erC }

func (fw *fileWatcher) Close() error {
	close(fw.done)
	return fw.w.Close()
}

// Watch lowers paths once, then again whenever one of them is created or
// written, until ctx ends. Events for a file within debounce of each other
// cause a single rebuild. onResult is called from the calling goroutine.
func (d *Driver) Watch(ctx context.Context, paths []string, debounce time.Duration, onResult func(Result)) error {
	fw, err := newFileWatcher(paths)
	if err != nil {
		return err
	}
	defer fw.Close()

	results, err := d.CompileFiles(ctx, paths)
	for _, r := range results {
		if r.Path != "" {
			onResult(r)
		}
	}
	if err != nil {
		return err
	}

	fire := make(chan string)
	timers := map[string]*time.Timer{}
	defer func() {
		for _, t := range timers {
			t.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-fw.Errors():
			d.log.Warn("watch: %v", err)
		case path := <-fire:
			d.log.Debug("watch: rebuilding %s", path)
			onResult(d.CompileFile(ctx, path))
		case ev, ok := <-fw.Events():
			if !ok {
				return nil
			}
			if ev.Op&(OpCreate|OpWrite) == 0 {
				d.log.Debug("watch: %s removed or renamed", ev.Path)
				continue
			}
			if t, ok := timers[ev.Path]; ok {
				t.Reset(debounce)
				continue
			}
			path := ev.Path
			timers[path] = time.AfterFunc(debounce, func() {
				select {
				case fire <- path:
				case <-ctx.Done():
				}
			})
		}
	}
}
