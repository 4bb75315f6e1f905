// Package privilege holds the catalog of privileges an application may ask
// its users to grant.
//
// The catalog is configuration-as-code: it is populated once during startup
// and read by both the resolve and apply paths. It is an owned object rather
// than a package global, so tests build an isolated catalog per case.
package privilege

import (
	"strings"
	"sync"

	id "privileges/pkg/domain"
)

// Definition describes one privilege. It is not persisted; records refer to
// it by Key only.
type Definition struct {
	Key            id.PrivilegeKey `json:"key" yaml:"key"`
	Label          string          `json:"label" yaml:"label"`
	Description    string          `json:"description" yaml:"description"`
	DefaultGranted bool            `json:"default_granted" yaml:"default_granted"`
}

// Catalog is an ordered registry of privilege definitions.
// Safe for concurrent use; registration is last-writer-wins.
type Catalog struct {
	mu    sync.RWMutex
	order []id.PrivilegeKey
	defs  map[id.PrivilegeKey]Definition
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{defs: make(map[id.PrivilegeKey]Definition)}
}

// Register inserts or replaces a definition. A replaced key keeps the position
// of its first registration so All stays stable across redefinitions.
func (c *Catalog) Register(def Definition) error {
	if err := validate(def); err != nil {
		return err
	}
	def.Label = strings.TrimSpace(def.Label)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.defs[def.Key]; !exists {
		c.order = append(c.order, def.Key)
	}
	c.defs[def.Key] = def
	return nil
}

// MustRegister registers every definition and panics on the first invalid one.
func (c *Catalog) MustRegister(defs ...Definition) {
	for _, def := range defs {
		if err := c.Register(def); err != nil {
			panic(err)
		}
	}
}

// All returns a copy of every definition in registration order.
func (c *Catalog) All() []Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Definition, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.defs[key])
	}
	return out
}

// Get returns the definition for key or an *UnknownPrivilegeError.
func (c *Catalog) Get(key id.PrivilegeKey) (Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[key]
	if !ok {
		return Definition{}, &UnknownPrivilegeError{Keys: []id.PrivilegeKey{key}}
	}
	return def, nil
}

// Has reports whether key is currently registered.
func (c *Catalog) Has(key id.PrivilegeKey) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.defs[key]
	return ok
}

// Len returns the number of registered definitions.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

func validate(def Definition) error {
	if def.Key == "" {
		return &InvalidDefinitionError{Key: "", Reason: "key is required"}
	}
	if !def.Key.IsValid() {
		return &InvalidDefinitionError{Key: string(def.Key), Reason: "key must start with a letter and contain only letters, digits, '_' or '-' (max 64)"}
	}
	if strings.TrimSpace(def.Label) == "" {
		return &InvalidDefinitionError{Key: string(def.Key), Reason: "label is required"}
	}
	return nil
}
