package vocals

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/oauth2"
)

// ErrCredentialNotFound is returned by CredentialStore.Load for unknown keys.
var ErrCredentialNotFound = errors.New("credential not found")

// CredentialStore persists tokens between runs, keyed by account.
type CredentialStore interface {
	Load(key string) (*oauth2.Token, error)
	Save(key string, token *oauth2.Token) error
	Has(key string) bool
	Delete(key string) error
}

// MemoryCredentialStore keeps tokens for the life of the process.
type MemoryCredentialStore struct {
	mu     sync.RWMutex
	tokens map[string]*oauth2.Token
}

func NewMemoryCredentialStore() *MemoryCredentialStore {
	return &MemoryCredentialStore{tokens: make(map[string]*oauth2.Token)}
}

func (s *MemoryCredentialStore) Load(key string) (*oauth2.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tok, ok := s.tokens[key]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	cp := *tok
	return &cp, nil
}

func (s *MemoryCredentialStore) Save(key string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *token
	s.tokens[key] = &cp
	return nil
}

func (s *MemoryCredentialStore) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tokens[key]
	return ok
}

func (s *MemoryCredentialStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, key)
	return nil
}

// FileCredentialStore keeps tokens in a single JSON file readable only by
// the current user.
type FileCredentialStore struct {
	path string
	mu   sync.Mutex
}

func NewFileCredentialStore(path string) *FileCredentialStore {
	return &FileCredentialStore{path: path}
}

// DefaultCredentialPath is ~/.config/vocals/credentials.json, or the
// platform equivalent.
func DefaultCredentialPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "vocals", "credentials.json"), nil
}

func (s *FileCredentialStore) Path() string {
	return s.path
}

func (s *FileCredentialStore) Load(key string) (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.read()
	if err != nil {
		return nil, err
	}
	tok, ok := all[key]
	if !ok {
		return nil, ErrCredentialNotFound
	}
	return tok, nil
}

func (s *FileCredentialStore) Save(key string, token *oauth2.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.read()
	if err != nil {
		return err
	}
	all[key] = token
	return s.write(all)
}

func (s *FileCredentialStore) Has(key string) bool {
	_, err := s.Load(key)
	return err == nil
}

func (s *FileCredentialStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := all[key]; !ok {
		return nil
	}
	delete(all, key)
	return s.write(all)
}

func (s *FileCredentialStore) read() (map[string]*oauth2.Token, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string]*oauth2.Token), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading credentials: %w", err)
	}
	all := make(map[string]*oauth2.Token)
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, NewJSONError(fmt.Sprintf("credentials file %s: %v", s.path, err))
	}
	return all, nil
}

func (s *FileCredentialStore) write(all map[string]*oauth2.Token) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("creating credentials dir: %w", err)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing credentials: %w", err)
	}
	return os.Rename(tmp, s.path)
}
