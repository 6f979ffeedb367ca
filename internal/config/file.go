package config

import "os"

// readFile is a thin seam over os.ReadFile so tests can substitute a
// fake analyzers file without touching the real filesystem if needed.
func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}
