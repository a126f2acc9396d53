package registry

import (
	"slices"
	"sync"
)

// Registry is the membership map between connections and the symbols they follow.
// Every operation runs under one mutex; callers only ever see copies.
type Registry struct {
	mu       sync.Mutex
	bySymbol map[string]map[string]struct{}
	byMember map[string]map[string]struct{}
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		bySymbol: make(map[string]map[string]struct{}),
		byMember: make(map[string]map[string]struct{}),
	}
}

// Subscribe records member's interest in symbol.
// Returns true if member is the first subscriber of symbol.
func (r *Registry) Subscribe(member, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols, ok := r.byMember[member]
	if !ok {
		symbols = make(map[string]struct{})
		r.byMember[member] = symbols
	}
	if _, exists := symbols[symbol]; exists {
		return false
	}
	symbols[symbol] = struct{}{}

	members, ok := r.bySymbol[symbol]
	if !ok {
		members = make(map[string]struct{})
		r.bySymbol[symbol] = members
	}
	members[member] = struct{}{}
	return len(members) == 1
}

// Unsubscribe removes member's interest in symbol.
// Returns true if member was the last subscriber of symbol.
func (r *Registry) Unsubscribe(member, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols, ok := r.byMember[member]
	if !ok {
		return false
	}
	if _, exists := symbols[symbol]; !exists {
		return false
	}
	delete(symbols, symbol)
	if len(symbols) == 0 {
		delete(r.byMember, member)
	}
	return r.removeMemberLocked(member, symbol)
}

// DropUser removes every membership of member and returns the symbols left
// without subscribers, sorted.
func (r *Registry) DropUser(member string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	symbols, ok := r.byMember[member]
	if !ok {
		return nil
	}
	delete(r.byMember, member)

	var emptied []string
	for symbol := range symbols {
		if r.removeMemberLocked(member, symbol) {
			emptied = append(emptied, symbol)
		}
	}
	slices.Sort(emptied)
	return emptied
}

func (r *Registry) removeMemberLocked(member, symbol string) bool {
	members, ok := r.bySymbol[symbol]
	if !ok {
		return false
	}
	delete(members, member)
	if len(members) != 0 {
		return false
	}
	delete(r.bySymbol, symbol)
	return true
}

// Subscribers returns the members following symbol.
func (r *Registry) Subscribers(symbol string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.bySymbol[symbol])
}

// Symbols returns every symbol with at least one subscriber.
func (r *Registry) Symbols() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, 0, len(r.bySymbol))
	for symbol := range r.bySymbol {
		out = append(out, symbol)
	}
	slices.Sort(out)
	return out
}

// SymbolsOf returns the symbols member follows.
func (r *Registry) SymbolsOf(member string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return keys(r.byMember[member])
}

// Has reports whether member follows symbol.
func (r *Registry) Has(member, symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.bySymbol[symbol][member]
	return ok
}

// Active reports whether symbol has at least one subscriber.
func (r *Registry) Active(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySymbol[symbol]) != 0
}

// Count returns the number of active symbols.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bySymbol)
}

func keys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
