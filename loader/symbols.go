package loader

import (
	"fmt"
	"sort"
)

// A Symbol is a function of the program.
type Symbol struct {
	Name string
	Addr uint64
	Size uint64
}

// SymbolTable indexes function symbols by address. It is only used for
// diagnostics.
type SymbolTable struct {
	sorted []Symbol
	byAddr map[uint64]Symbol
}

// NewSymbolTable creates a table from a list of symbols. When several symbols
// share an address, the first one wins.
func NewSymbolTable(symbols []Symbol) SymbolTable {
	t := SymbolTable{
		byAddr: make(map[uint64]Symbol, len(symbols)),
	}

	for _, s := range symbols {
		if _, dup := t.byAddr[s.Addr]; dup {
			continue
		}

		t.byAddr[s.Addr] = s
		t.sorted = append(t.sorted, s)
	}

	sort.Slice(t.sorted, func(i, j int) bool {
		return t.sorted[i].Addr < t.sorted[j].Addr
	})

	return t
}

// Len returns the number of symbols.
func (t SymbolTable) Len() int {
	return len(t.sorted)
}

// All returns the symbols ordered by address.
func (t SymbolTable) All() []Symbol {
	res := make([]Symbol, len(t.sorted))
	copy(res, t.sorted)

	return res
}

// Lookup returns the symbol that starts exactly at addr.
func (t SymbolTable) Lookup(addr uint64) (Symbol, bool) {
	s, ok := t.byAddr[addr]
	return s, ok
}

// Locate returns the closest symbol at or below addr and the distance from its
// start.
func (t SymbolTable) Locate(addr uint64) (Symbol, uint64, bool) {
	i := sort.Search(len(t.sorted), func(i int) bool {
		return t.sorted[i].Addr > addr
	})

	if i == 0 {
		return Symbol{}, 0, false
	}

	s := t.sorted[i-1]

	return s, addr - s.Addr, true
}

// Describe renders addr as "name+0xoff", or the bare address when no symbol
// precedes it.
func (t SymbolTable) Describe(addr uint64) string {
	s, off, ok := t.Locate(addr)
	if !ok {
		return fmt.Sprintf("%#x", addr)
	}

	if off == 0 {
		return s.Name
	}

	return fmt.Sprintf("%s+%#x", s.Name, off)
}
