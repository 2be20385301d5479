package accounts

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

// MemoryStore is a Store held in memory, loaded from a YAML fixture file for
// local runs and tests.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*userData
}

type userData struct {
	Accounts     []Account     `yaml:"accounts"`
	Transactions []Transaction `yaml:"transactions"`
}

type fixtureFile struct {
	Users map[string]*userData `yaml:"users"`
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: make(map[string]*userData)}
}

// LoadFixtures reads a YAML file of the form:
//
//	users:
//	  user-1:
//	    accounts: [...]
//	    transactions: [...]
func LoadFixtures(path string) (*MemoryStore, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fixtures: %w", err)
	}
	return ParseFixtures(data)
}

// ParseFixtures parses fixture YAML.
func ParseFixtures(data []byte) (*MemoryStore, error) {
	var f fixtureFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing fixtures: %w", err)
	}
	s := NewMemoryStore()
	for userID, ud := range f.Users {
		if ud == nil {
			continue
		}
		s.Put(userID, ud.Accounts, ud.Transactions)
	}
	return s, nil
}

// Put replaces a user's data.
func (s *MemoryStore) Put(userID string, accts []Account, txns []Transaction) {
	for i := range accts {
		accts[i].UserID = userID
	}
	s.mu.Lock()
	s.users[userID] = &userData{Accounts: accts, Transactions: txns}
	s.mu.Unlock()
}

// Users returns the user ids with data, sorted.
func (s *MemoryStore) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.users))
	for id := range s.users {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *MemoryStore) Accounts(_ context.Context, userID string) ([]Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ud, ok := s.users[userID]
	if !ok {
		return nil, fmt.Errorf("%s: %w", userID, ErrUnknownUser)
	}
	return append([]Account(nil), ud.Accounts...), nil
}

func (s *MemoryStore) Transactions(_ context.Context, userID string, since time.Time, limit int) ([]Transaction, error) {
	s.mu.RLock()
	ud, ok := s.users[userID]
	var all []Transaction
	if ok {
		all = append(all, ud.Transactions...)
	}
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s: %w", userID, ErrUnknownUser)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Date.After(all[j].Date) })
	out := all[:0]
	for _, t := range all {
		if !since.IsZero() && t.Date.Before(since) {
			continue
		}
		out = append(out, t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
