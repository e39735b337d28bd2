package sandbox

import "os"

// cleanupPaths removes every file/directory Assemble may have created for
// cfg. Missing paths are not an error — close/restart/timeout recovery may
// run this more than once, or against a Config where some paths were never
// created (KindNone).
func cleanupPaths(cfg Config) error {
	var firstErr error
	remove := func(path string) {
		if path == "" {
			return
		}
		if err := os.RemoveAll(path); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	remove(cfg.WrapperPath)
	remove(cfg.ProfilePath)
	remove(cfg.SandboxTmp)
	return firstErr
}
