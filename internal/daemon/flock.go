package daemon

import "os"

// FileLock holds the single-instance daemon lock. The OS drops the lock
// when the process dies, including on SIGKILL, so a crashed daemon never
// blocks the next start.
type FileLock struct {
	path string
	file *os.File
}

// LockPath returns the path to the lock file.
func (l *FileLock) LockPath() string {
	return l.path
}
