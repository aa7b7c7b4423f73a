package adapters

import (
	"fmt"
	"os"
	"path/filepath"

	"cvadapt/internal/billing/ports"
	"cvadapt/internal/jsonx"
)

// FileLedgerStore is the memory store mirrored to a single JSON document,
// rewritten atomically after every mutation.
type FileLedgerStore struct {
	*MemoryLedgerStore
	path string
}

// NewFileLedgerStore opens path, creating it (and its directory) when missing.
func NewFileLedgerStore(path string) (*FileLedgerStore, error) {
	if path == "" {
		return nil, fmt.Errorf("file store requires a path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	state := newLedgerState()
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		if err := writeStateFile(path, state); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, fmt.Errorf("read store file: %w", err)
	default:
		if err := jsonx.Unmarshal(data, &state); err != nil {
			return nil, fmt.Errorf("parse store file %s: %w", path, err)
		}
		if state.Users == nil {
			state.Users = newLedgerState().Users
		}
		if state.UsedStripeSessions == nil {
			state.UsedStripeSessions = map[string]bool{}
		}
		for id, acct := range state.Users {
			acct.UserID = id
			state.Users[id] = acct
		}
	}

	mem := &MemoryLedgerStore{state: state}
	mem.persist = func(s ledgerState) error { return writeStateFile(path, s) }
	return &FileLedgerStore{MemoryLedgerStore: mem, path: path}, nil
}

// Path returns the backing document location.
func (s *FileLedgerStore) Path() string {
	return s.path
}

func writeStateFile(path string, state ledgerState) error {
	data, err := jsonx.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write store file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close store file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}

var _ ports.LedgerStore = (*FileLedgerStore)(nil)
