package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"wallet-exchange/pkg/types"
)

// Storage keeps submitted exchange receipts in a JSON file
type Storage struct {
	filePath string
	mu       sync.RWMutex
	receipts map[string]types.Receipt
}

// receiptFile is the on-disk layout
type receiptFile struct {
	Receipts []types.Receipt `json:"receipts"`
}

// NewStorage opens the journal at path, creating it on first write.
// An empty path uses ~/.wallet-exchange/history.json.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".wallet-exchange", "history.json")
	}

	s := &Storage{
		filePath: path,
		receipts: make(map[string]types.Receipt),
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Storage) load() error {
	data, err := os.ReadFile(s.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read journal: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var f receiptFile
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse journal: %w", err)
	}
	for _, r := range f.Receipts {
		s.receipts[r.ID] = r
	}
	return nil
}

// save writes the journal. Caller holds s.mu.
func (s *Storage) save() error {
	f := receiptFile{Receipts: s.sortedLocked()}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal receipts: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	// Write to temporary file first, then rename for atomic write
	tempFile := s.filePath + ".tmp"
	if err := os.WriteFile(tempFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write journal: %w", err)
	}
	if err := os.Rename(tempFile, s.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// Record appends a receipt and persists the journal
func (s *Storage) Record(r types.Receipt) error {
	if r.ID == "" {
		return fmt.Errorf("receipt has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.receipts[r.ID]; exists {
		return fmt.Errorf("receipt '%s' already recorded", r.ID)
	}
	s.receipts[r.ID] = r

	if err := s.save(); err != nil {
		delete(s.receipts, r.ID)
		return err
	}
	return nil
}

// Get retrieves a receipt by id
func (s *Storage) Get(id string) (types.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.receipts[id]
	if !ok {
		return types.Receipt{}, fmt.Errorf("receipt '%s' not found", id)
	}
	return r, nil
}

// List returns all receipts, newest first
func (s *Storage) List() []types.Receipt {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

// Count returns the number of recorded receipts
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.receipts)
}

// FilePath returns the journal location
func (s *Storage) FilePath() string {
	return s.filePath
}

func (s *Storage) sortedLocked() []types.Receipt {
	out := make([]types.Receipt, 0, len(s.receipts))
	for _, r := range s.receipts {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SubmittedAt.Equal(out[j].SubmittedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].SubmittedAt.After(out[j].SubmittedAt)
	})
	return out
}
