package instrument

import (
	"sort"
	"sync"

	"spider_go/internal/domain"
)

// Catalog holds the instruments discovered for the exchange, indexed both by
// the venue id found on the wire and by the system name used in topics.
// Discovery writes from the setup goroutine while the receive loop reads, so
// access is guarded.
type Catalog struct {
	mu         sync.RWMutex
	byExchange map[string]domain.Instrument
	byName     map[string]domain.Instrument
}

func NewCatalog() *Catalog {
	return &Catalog{
		byExchange: make(map[string]domain.Instrument),
		byName:     make(map[string]domain.Instrument),
	}
}

// Put adds or replaces instruments. Replacing keeps both indexes in step.
func (c *Catalog) Put(insts ...domain.Instrument) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, inst := range insts {
		if old, ok := c.byExchange[inst.ExchangeID]; ok && old.Name != inst.Name {
			delete(c.byName, old.Name)
		}
		c.byExchange[inst.ExchangeID] = inst
		c.byName[inst.Name] = inst
	}
}

// ByExchangeID looks an instrument up by its venue id ("BTC-USD-SWAP").
func (c *Catalog) ByExchangeID(id string) (domain.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.byExchange[id]
	return inst, ok
}

// ByName looks an instrument up by its system name ("BTC-PERPETUAL").
func (c *Catalog) ByName(name string) (domain.Instrument, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	inst, ok := c.byName[name]
	return inst, ok
}

// All returns every instrument sorted by name.
func (c *Catalog) All() []domain.Instrument {
	c.mu.RLock()
	out := make([]domain.Instrument, 0, len(c.byName))
	for _, inst := range c.byName {
		out = append(out, inst)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byName)
}
