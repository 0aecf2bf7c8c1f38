package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WatchProject watches the project-local config file and invokes onChange
// with the freshly loaded Project whenever it is written. Reload failures
// are passed to onError and the watch continues; a broken intermediate
// save should not kill the session.
func WatchProject(ctx context.Context, root string, onChange func(*Project), onError func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors replace files on save,
	// which drops a direct file watch.
	if err := watcher.Add(root); err != nil {
		return err
	}

	target := filepath.Join(root, DefaultProjectFile)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Name != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			project, err := LoadProject(root)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue
			}
			onChange(project)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if onError != nil {
				onError(err)
			}
		}
	}
}
