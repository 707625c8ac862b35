package profile

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

var assetExtensions = map[string]bool{".crt": true, ".key": true, ".pem": true}

// GUIConfigDirs returns the directories the OpenVPN GUI imports profiles
// from. An explicit dir is searched first.
func GUIConfigDirs(explicit string) []string {
	var dirs []string
	if explicit != "" {
		dirs = append(dirs, explicit)
	}
	home := os.Getenv("USERPROFILE")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	if home != "" {
		dirs = append(dirs, filepath.Join(home, "OpenVPN", "config"))
	}
	for _, env := range []string{"ProgramFiles", "ProgramW6432"} {
		if base := os.Getenv(env); base != "" {
			dirs = append(dirs, filepath.Join(base, "OpenVPN", "config"))
		}
	}
	return dirs
}

// ExistsIn reports whether <name>.ovpn is present in any of dirs.
func ExistsIn(name string, dirs []string) bool {
	for _, dir := range dirs {
		if isFile(filepath.Join(dir, name+Extension)) {
			return true
		}
	}
	return false
}

// Install copies the cleaned profile and its certificate assets into
// configDir and returns the installed profile path.
func Install(cleanPath, assetsDir, configDir string) (string, error) {
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("create GUI config dir: %w", err)
	}

	dest := filepath.Join(configDir, filepath.Base(cleanPath))
	if err := copyFile(cleanPath, dest); err != nil {
		return "", err
	}

	entries, err := os.ReadDir(assetsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return dest, nil
		}
		return "", fmt.Errorf("read assets dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !assetExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		if err := copyFile(filepath.Join(assetsDir, e.Name()), filepath.Join(configDir, e.Name())); err != nil {
			return "", err
		}
	}
	return dest, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}
