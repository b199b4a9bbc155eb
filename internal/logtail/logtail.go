// Package logtail prints and follows companion stderr log files.
package logtail

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
)

// Show writes the current contents of the log file at path to w
func Show(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}
	return nil
}

// Follow writes the current contents of the log file to w, then streams
// appended data as the companion writes it, until ctx is cancelled or the
// file goes away.
func Follow(ctx context.Context, w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer f.Close()

	// Drain what's already there
	offset, err := io.Copy(w, f)
	if err != nil {
		return fmt.Errorf("failed to read log file: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch log file: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
				return fmt.Errorf("log file went away: %s", path)
			}
			if event.Op&fsnotify.Write == 0 {
				continue
			}
			// Truncated in place: start over from the beginning
			if info, err := f.Stat(); err == nil && info.Size() < offset {
				if _, err := f.Seek(0, io.SeekStart); err != nil {
					return fmt.Errorf("failed to rewind log file: %w", err)
				}
				offset = 0
			}
			// Copy whatever was appended since the last read. The file
			// offset is wherever the previous copy stopped.
			n, err := io.Copy(w, f)
			if err != nil {
				return fmt.Errorf("failed to read log file: %w", err)
			}
			offset += n
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("file watcher error: %w", err)
		}
	}
}
