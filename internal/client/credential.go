package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCredential means no user identity is stored; the manager will not
// contact the server without one.
var ErrNoCredential = errors.New("no credential stored")

// Credential is the opaque identity pair presented in the handshake.
type Credential struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// CredentialSource yields the identity to connect with. It is consulted on
// every connect attempt so a login between attempts is picked up.
type CredentialSource interface {
	Load() (Credential, error)
}

// Load lets a literal Credential act as its own source.
func (c Credential) Load() (Credential, error) {
	if c.UserID == "" || c.Username == "" {
		return Credential{}, ErrNoCredential
	}
	return c, nil
}

// CredentialFile stores the credential as JSON on disk.
type CredentialFile string

// DefaultCredentialPath is os.UserConfigDir()/roomchat/credential.json.
func DefaultCredentialPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "roomchat", "credential.json"), nil
}

func (f CredentialFile) Load() (Credential, error) {
	data, err := os.ReadFile(string(f))
	if errors.Is(err, os.ErrNotExist) {
		return Credential{}, ErrNoCredential
	}
	if err != nil {
		return Credential{}, fmt.Errorf("read credential: %w", err)
	}
	var c Credential
	if err := json.Unmarshal(data, &c); err != nil {
		return Credential{}, fmt.Errorf("parse credential %s: %w", f, err)
	}
	return c.Load()
}

// Save writes c, creating the directory if needed.
func (f CredentialFile) Save(c Credential) error {
	if _, err := c.Load(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(string(f)), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(string(f), data, 0o600)
}

// Remove forgets the stored credential. A missing file is not an error.
func (f CredentialFile) Remove() error {
	if err := os.Remove(string(f)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
