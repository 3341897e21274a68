package loop

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"autolearn/internal/logging"
)

// StopSignal is polled once per cycle boundary.
type StopSignal interface {
	Stopped() bool
}

// Waker is implemented by stop signals that can cut an idle or backoff
// sleep short when the signal appears.
type Waker interface {
	Wake() <-chan struct{}
}

// FileStopSignal is set while a sentinel file exists. Once started it also
// watches the file's directory so sleeps end as soon as the file appears.
type FileStopSignal struct {
	mu      sync.Mutex
	path    string
	watcher *fsnotify.Watcher
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	running bool
}

// NewFileStopSignal creates a signal for path.
func NewFileStopSignal(path string) *FileStopSignal {
	return &FileStopSignal{
		path: path,
		wake: make(chan struct{}, 1),
	}
}

// Path returns the sentinel location.
func (s *FileStopSignal) Path() string { return s.path }

// Stopped reports whether the sentinel file exists.
func (s *FileStopSignal) Stopped() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Wake fires when the sentinel is created or written.
func (s *FileStopSignal) Wake() <-chan struct{} { return s.wake }

// Start begins watching. If the watcher cannot be created the signal still
// works by polling; only early wakeups are lost.
func (s *FileStopSignal) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Get(logging.CategoryLoop).Warn("Stop file watcher unavailable, polling only: %v", err)
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		logging.Get(logging.CategoryLoop).Warn("Cannot watch %s, polling only: %v", dir, err)
		return nil
	}

	s.watcher = watcher
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.running = true
	go s.run(ctx)
	logging.LoopDebug("Watching for stop file %s", s.path)
	return nil
}

// Stop ends watching and waits for the watcher goroutine to exit.
func (s *FileStopSignal) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	<-s.doneCh
	if err := s.watcher.Close(); err != nil {
		logging.Get(logging.CategoryLoop).Error("Error closing stop file watcher: %v", err)
	}
}

func (s *FileStopSignal) run(ctx context.Context) {
	defer close(s.doneCh)
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			logging.Loop("Stop file %s appeared", s.path)
			select {
			case s.wake <- struct{}{}:
			default:
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			if !errors.Is(err, fsnotify.ErrEventOverflow) {
				logging.Get(logging.CategoryLoop).Warn("Stop file watcher error: %v", err)
			}
		}
	}
}
