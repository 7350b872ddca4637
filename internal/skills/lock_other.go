//go:build !unix

package skills

import "os"

// Advisory file locks are unavailable; the in-process keyed mutexes in
// FileStore still serialize writers within one process.
func lockFile(*os.File, bool) error { return nil }

func unlockFile(*os.File) error { return nil }
