package persona

import (
	"context"
	"log"

	"github.com/fsnotify/fsnotify"
)

// Watch reloads the store whenever a persona file is written, created,
// renamed, or removed. Returns after wiring the watcher; reload errors
// are logged, never fatal.
func (s *Store) Watch(ctx context.Context) error {
	if s.dir == "" {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(s.dir); err != nil {
		fsw.Close()
		return err
	}

	go func() {
		defer fsw.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-fsw.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if err := s.Load(); err != nil {
					log.Printf("persona: reload after %s failed: %v", ev.Name, err)
					continue
				}
				log.Printf("persona: reloaded after change to %s", ev.Name)
			case err, ok := <-fsw.Errors:
				if !ok {
					return
				}
				log.Printf("persona: watcher error: %v", err)
			}
		}
	}()
	return nil
}
