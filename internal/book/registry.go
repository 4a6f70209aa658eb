package book

import (
	"spider_go/internal/domain"
)

// Registry owns the replicas of one connection, keyed by instrument name.
// Like the replicas it holds, it is only touched from the receive loop.
type Registry struct {
	maxDepth     int
	connectionID int64
	books        map[string]*Replica
}

// NewRegistry creates an empty registry whose replicas keep at most maxDepth
// levels per side.
func NewRegistry(maxDepth int) *Registry {
	return &Registry{
		maxDepth: maxDepth,
		books:    make(map[string]*Replica),
	}
}

// Reset drops every replica. Called once per new connection so that books
// from a previous session are never mixed with fresh snapshots.
func (g *Registry) Reset(connectionID int64) {
	g.connectionID = connectionID
	g.books = make(map[string]*Replica)
}

// ConnectionID returns the id stamped on replicas created since the last Reset.
func (g *Registry) ConnectionID() int64 { return g.connectionID }

// GetOrCreate returns the replica for inst, allocating an empty one on first use.
func (g *Registry) GetOrCreate(inst domain.Instrument) *Replica {
	if r, ok := g.books[inst.Name]; ok {
		return r
	}
	r := NewReplica(inst, g.maxDepth, g.connectionID)
	g.books[inst.Name] = r
	return r
}

// Get is a non-allocating lookup.
func (g *Registry) Get(name string) (*Replica, bool) {
	r, ok := g.books[name]
	return r, ok
}

// UpdateTicker replaces the annotations of an existing book. Returns false,
// and does nothing, when no snapshot has created the book yet.
func (g *Registry) UpdateTicker(name string, fields domain.TickerFields) bool {
	r, ok := g.books[name]
	if !ok {
		return false
	}
	r.UpdateTicker(fields)
	return true
}

// Len returns the number of live replicas.
func (g *Registry) Len() int { return len(g.books) }
