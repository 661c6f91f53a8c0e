package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	stateFileName = "local_state.json"

	privateDirPerm  = 0o700
	privateFilePerm = 0o600
	maxStateSize    = 1 << 20 // 1 MiB
)

var errUnsafeStatePath = errors.New("storage: unsafe state path")

// FileStore persists keys as a single JSON object, written atomically
// with owner-only permissions.
type FileStore struct {
	mu   sync.RWMutex
	path string
	data map[string]string
}

// NewFileStore loads (or initializes) the state file under dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := ensureOwnerOnlyDir(dir); err != nil {
		return nil, err
	}
	s := &FileStore{
		path: filepath.Join(dir, stateFileName),
		data: make(map[string]string),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data == nil {
		return "", false, errStoreClosed
	}
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return errStoreClosed
	}
	s.data[key] = value
	return s.flushLocked()
}

func (s *FileStore) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return errStoreClosed
	}
	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flushLocked()
}

func (s *FileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = nil
	return nil
}

func (s *FileStore) load() error {
	info, err := os.Lstat(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := validateRegularFile(s.path, info); err != nil {
		return err
	}
	if info.Size() > maxStateSize {
		return fmt.Errorf("%w: %q exceeds size limit", errUnsafeStatePath, s.path)
	}
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	// A corrupted state file is treated as empty rather than fatal;
	// everything in it can be re-acquired from the backend.
	if err := json.Unmarshal(raw, &s.data); err != nil {
		s.data = make(map[string]string)
	}
	if s.data == nil {
		s.data = make(map[string]string)
	}
	return nil
}

func (s *FileStore) flushLocked() error {
	raw, err := json.Marshal(s.data)
	if err != nil {
		return err
	}
	return writeOwnerOnlyFileAtomic(s.path, raw)
}

func ensureOwnerOnlyDir(dir string) error {
	if err := os.MkdirAll(dir, privateDirPerm); err != nil {
		return err
	}
	return os.Chmod(dir, privateDirPerm)
}

func validateRegularFile(path string, info os.FileInfo) error {
	if info.Mode()&os.ModeSymlink != 0 {
		return fmt.Errorf("%w: refusing symlink path %q", errUnsafeStatePath, path)
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: non-regular path %q", errUnsafeStatePath, path)
	}
	return nil
}

func writeOwnerOnlyFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := ensureOwnerOnlyDir(dir); err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmpFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if err := tmpFile.Chmod(privateFilePerm); err != nil {
		tmpFile.Close()
		return err
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return err
	}
	if err := tmpFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	cleanup = false
	return nil
}
