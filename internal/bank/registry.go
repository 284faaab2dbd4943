package bank

import (
	"fmt"
)

// Registry maps a bank identifier to its Client. Populated once at process
// start; lookups after that are read-only, so no locking is needed.
type Registry struct {
	clients map[string]Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]Client)}
}

func (r *Registry) Register(bank string, client Client) {
	r.clients[bank] = client
}

func (r *Registry) For(bank string) (Client, error) {
	c, ok := r.clients[bank]
	if !ok {
		return nil, fmt.Errorf("For: no client registered for bank %q", bank)
	}
	return c, nil
}
