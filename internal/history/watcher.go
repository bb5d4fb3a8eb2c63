package history

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/joseph-ayodele/procedo/constants"
)

type WatchConfig struct {
	Roots       []string      // directories to watch (recursive)
	InitialScan bool          // emit PDFs already present under the roots
	Debounce    time.Duration // coalesce bursts of write events per file
}

// StartWatcher emits paths of PDFs created or written under the roots.
// Both channels are closed when ctx is done.
func StartWatcher(ctx context.Context, cfg WatchConfig, logger *slog.Logger) (<-chan string, <-chan error, error) {
	if len(cfg.Roots) == 0 {
		return nil, nil, errors.New("no roots provided")
	}
	if logger == nil {
		logger = slog.Default()
	}
	evCh := make(chan string, 256)
	errCh := make(chan error, 1)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, nil, err
	}

	var initial []string
	addDir := func(root string) error {
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
			if walkErr != nil {
				return walkErr
			}
			if path != root && IsHidden(path) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return w.Add(path)
			}
			if cfg.InitialScan && isPDF(path) {
				initial = append(initial, path)
			}
			return nil
		})
	}
	for _, r := range cfg.Roots {
		if err := addDir(r); err != nil {
			logger.Error("history.watch.add_failed", "root", r, "err", err)
			_ = w.Close()
			return nil, nil, err
		}
	}

	go func() {
		defer close(evCh)
		defer close(errCh)
		defer func() {
			if err := w.Close(); err != nil {
				logger.Warn("history.watch.close_failed", "err", err)
			}
		}()

		emit := func(p string) bool {
			select {
			case evCh <- p:
				return true
			case <-ctx.Done():
				return false
			}
		}
		for _, p := range initial {
			if !emit(p) {
				return
			}
		}

		pending := map[string]time.Time{}
		tick := time.NewTicker(tickFor(cfg.Debounce))
		defer tick.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-w.Events:
				if !ok {
					return
				}
				if e.Has(fsnotify.Create) {
					// new subdirectories are watched too; Add fails harmlessly on files
					_ = w.Add(e.Name)
				}
				if !isPDF(e.Name) || IsHidden(e.Name) || !(e.Has(fsnotify.Create) || e.Has(fsnotify.Write) || e.Has(fsnotify.Rename)) {
					continue
				}
				if cfg.Debounce <= 0 {
					if !emit(e.Name) {
						return
					}
					continue
				}
				pending[e.Name] = time.Now().Add(cfg.Debounce)
			case now := <-tick.C:
				for p, due := range pending {
					if now.Before(due) {
						continue
					}
					delete(pending, p)
					if !emit(p) {
						return
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("history.watch.error", "err", err)
				select {
				case errCh <- err:
				default:
				}
			}
		}
	}()

	return evCh, errCh, nil
}

// Watch ingests PDFs dropped under roots until ctx is done.
func (i *Ingestor) Watch(ctx context.Context, orgID string, cfg WatchConfig) error {
	events, errs, err := StartWatcher(ctx, cfg, i.logger)
	if err != nil {
		return err
	}
	i.logger.Info("history.watch.start", "org_id", orgID, "roots", cfg.Roots)
	for {
		select {
		case p, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			r := i.ProcessPath(ctx, orgID, p)
			if !r.Success {
				i.logger.Warn("history.watch.ingest_failed", "path", p, "err", r.Error)
			}
		case err, ok := <-errs:
			if ok && err != nil {
				i.logger.Warn("history.watch.error", "err", err)
			}
			if !ok {
				errs = nil
			}
		}
	}
}

func isPDF(path string) bool {
	return constants.IsAllowedExt(filepath.Ext(path))
}

func tickFor(debounce time.Duration) time.Duration {
	if debounce <= 0 {
		return time.Hour
	}
	if t := debounce / 4; t > 10*time.Millisecond {
		return t
	}
	return 10 * time.Millisecond
}
