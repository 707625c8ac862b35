package tunnel

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PIDFile persists the PID of a CLI-spawned worker across invocations.
type PIDFile string

// Read returns the recorded PID. A missing or malformed file reports false.
func (f PIDFile) Read() (int, bool) {
	data, err := os.ReadFile(string(f))
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

// Exists reports whether the sentinel file is present.
func (f PIDFile) Exists() bool {
	_, err := os.Stat(string(f))
	return err == nil
}

// Write records pid, creating the parent directory.
func (f PIDFile) Write(pid int) error {
	if err := os.MkdirAll(filepath.Dir(string(f)), 0o755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	if err := os.WriteFile(string(f), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// Remove deletes the file; a missing file is not an error.
func (f PIDFile) Remove() error {
	if err := os.Remove(string(f)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove pid file: %w", err)
	}
	return nil
}
