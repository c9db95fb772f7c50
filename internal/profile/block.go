package profile

import (
	"fmt"
	"sort"
	"strings"
)

// Block is a raw, named profile section as delivered by config parsing.
// Option order matches declaration order; values are always lists
// (scalar options arrive as single-element lists).
//
// Blocks are immutable once loaded.
type Block struct {
	Name    string
	Options []Option
}

type Option struct {
	Key    string
	Values []string
}

// lookup returns the values of the last declaration of key within the block.
func (b *Block) lookup(key string) ([]string, bool) {
	var out []string
	found := false
	for _, o := range b.Options {
		if o.Key == key {
			out = o.Values
			found = true
		}
	}
	return out, found
}

// Inherit returns the parent profile names declared on this block, in order.
func (b *Block) Inherit() []string {
	vals, _ := b.lookup(KeyInherit)
	out := make([]string, 0, len(vals))
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Store holds all loaded profile blocks, keyed by name.
// It is read-only after construction and safe for concurrent use.
type Store struct {
	order  []string
	blocks map[string]*Block
}

// NewStore builds a Store from parsed blocks. Names must be unique.
// An empty "default" profile is added when the config does not declare one,
// so it is always available as an inheritance root.
func NewStore(blocks []Block) (*Store, error) {
	s := &Store{blocks: make(map[string]*Block, len(blocks)+1)}
	for i := range blocks {
		b := blocks[i]
		if strings.TrimSpace(b.Name) == "" {
			return nil, fmt.Errorf("profile with empty name")
		}
		if _, dup := s.blocks[b.Name]; dup {
			return nil, fmt.Errorf("duplicate profile %q", b.Name)
		}
		s.blocks[b.Name] = &b
		s.order = append(s.order, b.Name)
	}
	if _, ok := s.blocks[DefaultProfile]; !ok {
		s.blocks[DefaultProfile] = &Block{Name: DefaultProfile}
		s.order = append(s.order, DefaultProfile)
	}
	return s, nil
}

// Block returns the raw block for name.
func (s *Store) Block(name string) (*Block, bool) {
	b, ok := s.blocks[name]
	return b, ok
}

// Names returns all profile names in declaration order.
func (s *Store) Names() []string {
	return append([]string(nil), s.order...)
}

// SortedNames returns all profile names sorted alphabetically.
func (s *Store) SortedNames() []string {
	out := s.Names()
	sort.Strings(out)
	return out
}

// DefaultProfile is the implicit inheritance root.
const DefaultProfile = "default"
