package backend

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// shmDir is the conventional writable shared-memory mount checked for the
// RAM-backed ephemeral mode (spec.md §4.2).
const shmDir = "/dev/shm"

// allocateDataDir resolves the data directory to use and whether it is
// ephemeral (and therefore subject to removal on Stop).
//
//   - configured != "" -> persistent: created if absent, never removed.
//   - configured == "" && useRAMDisk -> a fresh directory under shmDir;
//     fails fast if shmDir is not present and writable.
//   - configured == "" && !useRAMDisk -> a fresh directory under os.TempDir(),
//     named uniquely by pid and a monotonic timestamp.
func allocateDataDir(configured string, useRAMDisk bool) (dir string, ephemeral bool, err error) {
	if configured != "" {
		if err := os.MkdirAll(configured, 0700); err != nil {
			return "", false, fmt.Errorf("backend: create persistent data dir: %w", err)
		}
		return configured, false, nil
	}

	base := os.TempDir()
	if useRAMDisk {
		info, statErr := os.Stat(shmDir)
		if statErr != nil || !info.IsDir() {
			return "", false, fmt.Errorf("backend: RAM-backed data dir requested but %s is not available", shmDir)
		}
		if !isWritable(shmDir) {
			return "", false, fmt.Errorf("backend: RAM-backed data dir requested but %s is not writable", shmDir)
		}
		base = shmDir
	}

	name := fmt.Sprintf("pgfrontdoor-%d-%d", os.Getpid(), time.Now().UnixNano())
	dir = filepath.Join(base, name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", false, fmt.Errorf("backend: create ephemeral data dir: %w", err)
	}
	return dir, true, nil
}

func isWritable(dir string) bool {
	probe := filepath.Join(dir, ".pgfrontdoor-write-probe")
	f, err := os.Create(probe)
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(probe)
	return true
}

// allocateSocketDir creates a uniquely named, mode-0700 directory for the
// backend's Unix domain socket (spec.md §6 "Filesystem").
func allocateSocketDir() (string, error) {
	name := fmt.Sprintf("pgfrontdoor-sock-%d-%d", os.Getpid(), time.Now().UnixNano())
	dir := filepath.Join(os.TempDir(), name)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("backend: create socket dir: %w", err)
	}
	return dir, nil
}

// isInitialized reports whether dir already holds an initialized data
// directory, by checking for the server's version marker file.
func isInitialized(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "PG_VERSION"))
	return err == nil
}

// writePasswordFile writes a freshly generated random password to a
// mode-0600 file for initdb's --pwfile, returning the password and the file
// path. The caller must remove the file immediately after initdb runs
// (spec.md §4.2, §6).
func writePasswordFile(dir string) (password, path string, err error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("backend: generate password: %w", err)
	}
	password = hex.EncodeToString(raw)

	path = filepath.Join(dir, ".pgfrontdoor-initdb-pw")
	if err := os.WriteFile(path, []byte(password+"\n"), 0600); err != nil {
		return "", "", fmt.Errorf("backend: write password file: %w", err)
	}
	return password, path, nil
}
