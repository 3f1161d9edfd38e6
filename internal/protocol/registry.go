package protocol

import (
	"sort"
	"sync"
)

// Registry maps each linked attribute to its AttributeLink. There is at
// most one link per AttributeRef. Insert and Remove are the only
// mutations; inbound paths only look links up.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	links map[AttributeRef]*AttributeLink
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{links: make(map[AttributeRef]*AttributeLink)}
}

// Insert stores link and returns the link it replaced, if any.
func (r *Registry) Insert(link *AttributeLink) *AttributeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.links[link.Ref]
	r.links[link.Ref] = link
	return old
}

// Remove deletes the link for ref and returns it.
func (r *Registry) Remove(ref AttributeRef) (*AttributeLink, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	link, ok := r.links[ref]
	if ok {
		delete(r.links, ref)
	}
	return link, ok
}

// RemoveIf deletes the link for ref only if it is still link.
func (r *Registry) RemoveIf(link *AttributeLink) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.links[link.Ref] != link {
		return false
	}
	delete(r.links, link.Ref)
	return true
}

// Get returns the link for ref.
func (r *Registry) Get(ref AttributeRef) (*AttributeLink, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	link, ok := r.links[ref]
	return link, ok
}

// IsCurrent reports whether link is still the registered link for its ref.
func (r *Registry) IsCurrent(link *AttributeLink) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.links[link.Ref] == link
}

// ByConfiguration returns the links bound to a configuration.
func (r *Registry) ByConfiguration(configID string) []*AttributeLink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*AttributeLink
	for _, l := range r.links {
		if l.ConfigID == configID {
			out = append(out, l)
		}
	}
	return out
}

// Len returns the number of links.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.links)
}

// Snapshot returns link info sorted by reference.
func (r *Registry) Snapshot() []LinkInfo {
	r.mu.RLock()
	out := make([]LinkInfo, 0, len(r.links))
	for _, l := range r.links {
		out = append(out, l.info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Ref.AssetID != out[j].Ref.AssetID {
			return out[i].Ref.AssetID < out[j].Ref.AssetID
		}
		return out[i].Ref.Name < out[j].Ref.Name
	})
	return out
}
