package book

import "sync"

// Registry manages one Book per symbol in a thread-safe manner.
// Each book carries its own lock, so order flow for distinct symbols
// proceeds in parallel; only the symbol -> book map is shared here.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{books: make(map[string]*Book)}
}

// Get returns the book for a symbol, creating it on first use
func (r *Registry) Get(symbol string) *Book {
	r.mu.RLock()
	b, ok := r.books[symbol]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.books[symbol]; ok {
		return b
	}
	b = New(symbol)
	r.books[symbol] = b
	return b
}

// Lookup returns the book for a symbol without creating it
func (r *Registry) Lookup(symbol string) (*Book, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[symbol]
	return b, ok
}

// Symbols returns all symbols with an active book
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.books))
	for s := range r.books {
		out = append(out, s)
	}
	return out
}

// Cancel tries to cancel an order across all books.
// Returns ErrNotFound if no book holds the order.
func (r *Registry) Cancel(orderID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, b := range r.books {
		if err := b.Cancel(orderID); err == nil {
			return nil
		}
	}
	return ErrNotFound
}
