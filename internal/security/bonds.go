package security

import (
	"strings"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// BondStore remembers peers that completed pairing
type BondStore interface {
	Has(peer string) bool
	Add(peer string) error
	List() []string
	Clear() error
}

// MemoryBondStore is a BondStore that forgets everything on restart
type MemoryBondStore struct {
	mu    sync.Mutex
	peers *orderedmap.OrderedMap[string, struct{}]
}

// NewMemoryBondStore creates an empty store
func NewMemoryBondStore() *MemoryBondStore {
	return &MemoryBondStore{peers: orderedmap.New[string, struct{}]()}
}

func (s *MemoryBondStore) Has(peer string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.peers.Get(strings.ToLower(peer))
	return ok
}

func (s *MemoryBondStore) Add(peer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers.Set(strings.ToLower(peer), struct{}{})
	return nil
}

func (s *MemoryBondStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, s.peers.Len())
	for pair := s.peers.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Key)
	}
	return out
}

func (s *MemoryBondStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = orderedmap.New[string, struct{}]()
	return nil
}
