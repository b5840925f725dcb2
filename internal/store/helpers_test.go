package store

import (
	"os"
	"path/filepath"
	"testing"
)

func mkdirAll(dir string) error {
	return os.MkdirAll(dir, 0o700)
}

func writeRaw(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}
