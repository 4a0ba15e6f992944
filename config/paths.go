// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

const (
	projectOrg  = "apimgr"
	projectName = "dbrouter"
)

// DefaultConfigDir returns the OS-appropriate directory a system-wide or
// per-user dbrouter config file should live in, mirroring the rest of this
// family's services' convention of separating root-owned system config from
// per-user config.
func DefaultConfigDir() string {
	isRoot := os.Geteuid() == 0

	switch runtime.GOOS {
	case "linux":
		if isRoot {
			return fmt.Sprintf("/etc/%s/%s", projectOrg, projectName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", projectOrg, projectName)
	case "darwin":
		if isRoot {
			return fmt.Sprintf("/Library/Application Support/%s/%s", projectOrg, projectName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, "Library", "Application Support", projectOrg, projectName)
	default:
		if isRoot {
			return fmt.Sprintf("/usr/local/etc/%s/%s", projectOrg, projectName)
		}
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", projectOrg, projectName)
	}
}

// DefaultConfigPath returns DefaultConfigDir() joined with the standard
// config.yaml filename.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}
