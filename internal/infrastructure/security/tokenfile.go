package security

import (
	"os"
	"path/filepath"
	"strings"
)

// TokenFile persists a single-user client's access token under the
// user's home directory. Directory mode 0700, file mode 0600; the modes
// are applied explicitly because platform defaults differ.
type TokenFile struct {
	path string
}

func NewTokenFile(path string) *TokenFile {
	return &TokenFile{path: path}
}

// DefaultTokenFile stores under $HOME/.pantryd/auth_token.
func DefaultTokenFile() (*TokenFile, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return NewTokenFile(filepath.Join(home, ".pantryd", "auth_token")), nil
}

func (f *TokenFile) Save(token string) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return err
	}

	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(token), 0o600); err != nil {
		return err
	}
	if err := os.Rename(tmp, f.path); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Chmod(f.path, 0o600)
}

func (f *TokenFile) Load() (string, error) {
	b, err := os.ReadFile(f.path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// Clear removes the stored token. Absent files are not an error.
func (f *TokenFile) Clear() error {
	err := os.Remove(f.path)
	if err != nil && os.IsNotExist(err) {
		return nil
	}
	return err
}
