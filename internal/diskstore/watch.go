package diskstore

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// startWatch watches metadata-segments/ for files written by sibling
// process invocations sharing this database directory, applying them to
// the in-memory index as soon as they appear rather than waiting for the
// next full restart.
func (d *Disk) startWatch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(d.cfg.segmentsDir()); err != nil {
		w.Close()
		return err
	}
	d.watcher = w
	d.stopWatch = make(chan struct{})

	go d.watchLoop()
	return nil
}

func (d *Disk) watchLoop() {
	for {
		select {
		case <-d.stopWatch:
			return
		case ev, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			d.handleForeignSegment(ev.Name)
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log.Warnf("diskstore: segment watcher error: %v", err)
		}
	}
}

func (d *Disk) handleForeignSegment(path string) {
	name := filepath.Base(path)

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ownedByUs := d.ownSegments[name]; ownedByUs {
		return
	}
	if err := d.applySegmentFile(path); err != nil {
		d.log.Warnf("diskstore: failed to apply foreign segment %s: %v", name, err)
	}
}
