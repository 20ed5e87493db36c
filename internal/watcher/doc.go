// Package watcher reports archives appearing in or disappearing from the
// download directory.
//
// Downloads written by the engine show up here too; the manager ignores
// names it already tracks and logs the rest, so archives copied in by hand
// and archives deleted behind its back are visible in the log.
//
// Example usage:
//
//	w, err := watcher.New("/home/me/.local/share/modsync/mods", log)
//	if err != nil {
//		return err
//	}
//	w.Start()
//	defer w.Stop()
//
//	for ev := range w.Events() {
//		log.Info("archive changed", "name", ev.Name, "op", ev.Op)
//	}
package watcher
