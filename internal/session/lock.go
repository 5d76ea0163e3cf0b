package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

const lockFileName = "scancoord.lock"

// Lock is an exclusive claim on a data directory, held for the life of the
// process. It stops a second coordinator from interleaving checkpoints and
// dispatches over the same state.
type Lock struct {
	path string
}

// AcquireLock claims dataDir. It fails when another live process holds the
// claim; a lock file left behind by a dead process is taken over.
func AcquireLock(dataDir string) (*Lock, error) {
	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dataDir, err)
	}
	path := filepath.Join(dataDir, lockFileName)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, werr := fmt.Fprintf(f, "%d\n", os.Getpid())
			cerr := f.Close()
			if werr != nil || cerr != nil {
				_ = os.Remove(path)
				return nil, fmt.Errorf("write lock file %s: %w", path, errOr(werr, cerr))
			}
			return &Lock{path: path}, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("create lock file %s: %w", path, err)
		}

		pid, perr := readLockPID(path)
		if perr == nil && processAlive(pid) {
			return nil, fmt.Errorf("data directory %s is locked by running process %d", dataDir, pid)
		}
		// Stale or unreadable lock: remove and retry once.
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("remove stale lock file %s: %w", path, rmErr)
		}
	}
	return nil, fmt.Errorf("could not acquire lock in %s", dataDir)
}

// Release drops the claim. Safe to call once; the directory is free for the
// next process afterwards.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove lock file %s: %w", l.path, err)
	}
	return nil
}

func readLockPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("lock file %s holds no pid", path)
	}
	return pid, nil
}

// processAlive probes the pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func errOr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}
