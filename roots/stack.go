package roots

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/cellgc/heap"
	"golang.org/x/exp/slices"
)

// ErrEmptyStack is returned when popping or peeking past the bottom of the stack
var ErrEmptyStack = errors.New("root stack is empty")

// Root is a single entry of the root stack. Only entries tagged heap.TypePointer are
// followed by the collector. Other entries are scalars that happen to live alongside
// references, and are never scanned or rewritten.
type Root struct {
	Value heap.Addr
	Type  heap.Type
}

// Stack is the explicit set of references held by the mutator. The collector treats it as
// unordered; the order only matters to the mutator's push/pop discipline.
type Stack struct {
	entries []Root
}

// Push adds an entry to the top of the stack
func (s *Stack) Push(value heap.Addr, typ heap.Type) {
	s.entries = append(s.entries, Root{Value: value, Type: typ})
}

// Pop removes and returns the entry on top of the stack
func (s *Stack) Pop() (Root, error) {
	if len(s.entries) == 0 {
		return Root{}, ErrEmptyStack
	}

	top := s.entries[len(s.entries)-1]
	s.entries = s.entries[:len(s.entries)-1]
	return top, nil
}

// Peek returns the entry depth places below the top of the stack without removing it
func (s *Stack) Peek(depth int) (Root, error) {
	if depth < 0 || depth >= len(s.entries) {
		return Root{}, errors.Wrapf(ErrEmptyStack, "depth %d with %d entries", depth, len(s.entries))
	}

	return s.entries[len(s.entries)-1-depth], nil
}

// Len is the number of entries on the stack
func (s *Stack) Len() int { return len(s.entries) }

// At returns the entry at index i, counting from the bottom of the stack
func (s *Stack) At(i int) Root { return s.entries[i] }

// Reset empties the stack
func (s *Stack) Reset() {
	s.entries = s.entries[:0]
}

// Snapshot returns a copy of every entry, bottom first
func (s *Stack) Snapshot() []Root {
	return slices.Clone(s.entries)
}

// ForEachPointer calls fn with a pointer to the value of every pointer-typed, non-nil entry,
// allowing the collector to redirect the entry in place
func (s *Stack) ForEachPointer(fn func(slot *heap.Addr) error) error {
	for i := range s.entries {
		if s.entries[i].Type != heap.TypePointer || s.entries[i].Value == heap.Nil {
			continue
		}

		err := fn(&s.entries[i].Value)
		if err != nil {
			return err
		}
	}

	return nil
}
