// Package watch tails a transcript file with filesystem notifications
// so watch mode reacts to appended events without polling.
//
// The watch registers on the parent directory and filters for the
// transcript's name, which keeps notifications flowing when a writer
// replaces the file instead of appending. Bursts of writes coalesce
// behind a debounce window; the consumer reads everything new from its
// cursor on each notification, so a dropped duplicate costs nothing.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce is how long the watcher waits after the last write
// before notifying.
const DefaultDebounce = 500 * time.Millisecond

// Event reports that the transcript grew or was replaced.
type Event struct {
	Path string
	At   time.Time
}

// Options configures a Watcher.
type Options struct {
	// Path is the transcript file to tail. Required; its directory
	// must exist, the file itself may not yet.
	Path string

	// Debounce is the quiet window after the last write. Zero means
	// DefaultDebounce.
	Debounce time.Duration

	Logger *zap.Logger
}

// Watcher emits a coalesced Event whenever the transcript changes.
type Watcher struct {
	path     string
	dir      string
	debounce time.Duration
	fs       *fsnotify.Watcher
	events   chan Event
	stop     chan struct{}
	logger   *zap.Logger
}

// New creates a Watcher. Start begins delivery.
func New(opts Options) (*Watcher, error) {
	if opts.Path == "" {
		return nil, errors.New("watch: Path is required")
	}
	path, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve %s: %w", opts.Path, err)
	}
	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create watcher: %w", err)
	}

	return &Watcher{
		path:     path,
		dir:      filepath.Dir(path),
		debounce: debounce,
		fs:       fs,
		events:   make(chan Event, 1),
		stop:     make(chan struct{}),
		logger:   logger,
	}, nil
}

// Start registers the directory watch and begins delivering events
// until Stop runs or the context is canceled.
func (w *Watcher) Start(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watch: %s: %w", w.dir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch: %s is not a directory", w.dir)
	}
	if err := w.fs.Add(w.dir); err != nil {
		return fmt.Errorf("watch: register %s: %w", w.dir, err)
	}

	w.logger.Info("watching transcript",
		zap.String("path", w.path),
		zap.Duration("debounce", w.debounce))
	go w.run(ctx)
	return nil
}

// Events is the notification channel. It holds at most one pending
// event; extras are dropped because a single notification already
// means "read the cursor".
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	select {
	case <-w.stop:
		return
	default:
		close(w.stop)
		_ = w.fs.Close()
	}
}

func (w *Watcher) run(ctx context.Context) {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-w.stop:
			return
		case <-ctx.Done():
			return

		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
				continue
			}
			if !timer.Stop() {
				select {
				case <-timerC:
				default:
				}
			}
			timer.Reset(w.debounce)

		case at := <-timerC:
			timer = nil
			timerC = nil
			select {
			case w.events <- Event{Path: w.path, At: at}:
			default:
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("transcript watch error", zap.Error(err))
		}
	}
}

// relevant filters directory noise down to changes of the one file.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}
