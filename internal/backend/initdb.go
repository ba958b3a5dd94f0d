package backend

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"pgfrontdoor/pkg/logger"
)

// binPath resolves name (e.g. "initdb", "postgres", "pg_ctl") against binDir
// when set, falling back to $PATH.
func binPath(binDir, name string) (string, error) {
	if binDir != "" {
		p := filepath.Join(binDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	p, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("backend: %s not found (set backend.bin_dir or add it to PATH): %w", name, err)
	}
	return p, nil
}

// runInitdb initializes dataDir with a neutral C/POSIX locale and a
// generated password, per spec.md §4.2. It returns the generated password,
// which the Supervisor keeps for the Admin Channel when the caller did not
// configure one explicitly.
func runInitdb(ctx context.Context, binDir, dataDir, adminUser string) (password string, err error) {
	initdbPath, err := binPath(binDir, "initdb")
	if err != nil {
		return "", err
	}

	password, pwFile, err := writePasswordFile(dataDir)
	if err != nil {
		return "", err
	}
	defer os.Remove(pwFile)

	cmd := exec.CommandContext(ctx, initdbPath,
		"-D", dataDir,
		"-U", adminUser,
		"--locale=C",
		"--encoding=UTF8",
		"--pwfile="+pwFile,
		"--auth=scram-sha-256",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("backend: initdb failed: %w\n%s", err, out)
	}
	logger.Debug("backend: initdb completed for %s", dataDir)
	return password, nil
}
