// Package store implements the filesystem layout of account and client
// config files under the per-user OIDC directory: read/write/enumerate/
// delete of encrypted blobs, backed by internal/envelope.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/vingar/oidc-agent/internal/envelope"
)

// candidateDirs is walked in order; the first that exists wins. Mirrors
// original_source/src/file_io.c's possibleLocations.
var candidateDirs = []string{
	".config/oidc-agent",
	".oidc-agent",
}

// ErrNotFound is returned when a named account file doesn't exist.
var ErrNotFound = errors.New("store: account not found")

// ErrInsecurePermissions is logged (not returned) when the discovered
// OIDC directory is more permissive than 0700.
var ErrInsecurePermissions = errors.New("store: oidc directory has insecure permissions")

var clientConfigSuffix = regexp.MustCompile(`\.clientconfig\d*$`)

// Dir discovers the per-user OIDC directory by walking candidateDirs
// under home in order and returning the first that exists.
func Dir(home string) (string, error) {
	for _, c := range candidateDirs {
		p := filepath.Join(home, c)
		if fi, err := os.Stat(p); err == nil && fi.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf("store: no oidc directory found under %s", home)
}

// Store is the encrypted account/client-config file store rooted at Dir.
type Store struct {
	dir string
	log logrus.FieldLogger
}

// New returns a Store rooted at dir, creating it with 0700 permissions if
// it does not yet exist.
func New(dir string, log logrus.FieldLogger) (*Store, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	fi, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("store: create oidc dir: %w", err)
		}
	case err != nil:
		return nil, fmt.Errorf("store: stat oidc dir: %w", err)
	default:
		if fi.Mode().Perm()&0o077 != 0 {
			log.WithField("dir", dir).Warn(ErrInsecurePermissions.Error())
		}
	}
	return &Store{dir: dir, log: log}, nil
}

func (s *Store) path(shortName string) string {
	return filepath.Join(s.dir, shortName)
}

// AccountExists reports whether an account file named shortName exists.
func (s *Store) AccountExists(shortName string) bool {
	_, err := os.Stat(s.path(shortName))
	return err == nil
}

// ReadAccount decrypts and returns the raw JSON for shortName.
func (s *Store) ReadAccount(shortName, password string) ([]byte, error) {
	raw, err := os.ReadFile(s.path(shortName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read %s: %w", shortName, err)
	}
	return envelope.OpenFromFile(string(raw), password)
}

// WriteAccount encrypts accountJSON and writes it atomically via a
// temp-file-then-rename, matching original_source's write-then-install
// pattern without ever leaving a half-written file in place.
func (s *Store) WriteAccount(shortName string, accountJSON []byte, password string) error {
	line, err := envelope.SealToFile(accountJSON, password)
	if err != nil {
		return err
	}
	final := s.path(shortName)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, []byte(line), 0o600); err != nil {
		return fmt.Errorf("store: write temp file for %s: %w", shortName, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("store: install %s: %w", shortName, err)
	}
	return nil
}

// DeleteAccount removes the account file for shortName.
func (s *Store) DeleteAccount(shortName string) error {
	if err := os.Remove(s.path(shortName)); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: delete %s: %w", shortName, err)
	}
	return nil
}

// ListAccountFiles returns the short names of every file in the OIDC
// directory that is neither a client-config file nor an agent-internal
// ".config" file.
func (s *Store) ListAccountFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", s.dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if isClientConfigName(name) || strings.HasSuffix(name, ".config") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// ListClientConfigFiles returns the full paths of every *.clientconfig /
// *.clientconfig<digits> file in the OIDC directory.
func (s *Store) ListClientConfigFiles() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", s.dir, err)
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if isClientConfigName(e.Name()) {
			paths = append(paths, filepath.Join(s.dir, e.Name()))
		}
	}
	return paths, nil
}

func isClientConfigName(name string) bool {
	return clientConfigSuffix.MatchString(name)
}
