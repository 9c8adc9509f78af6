// Package util provides small shared helpers.
package util

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindBinary locates an external executable by name. Search order:
//
//  1. the path named by envVar, when envVar is non-empty and set
//  2. ./name next to the working directory (development convenience)
//  3. name on PATH
//
// Candidates from 1 and 2 must exist and carry an executable bit.
func FindBinary(name, envVar string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" {
			if executable(p) {
				return p, nil
			}
			return "", fmt.Errorf("%s=%s is not an executable file", envVar, p)
		}
	}

	if local, err := filepath.Abs("./" + name); err == nil && executable(local) {
		return local, nil
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("binary %q not found (checked $%s, ./%s, PATH)", name, envVar, name)
}

func executable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0111 != 0
}
