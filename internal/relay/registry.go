package relay

import "slices"

// Registry tracks the display names held by open connections. A name is
// listed once no matter how many connections hold it, and stays listed until
// the last holder leaves. It is not safe for concurrent use; the relay owns it.
type Registry struct {
	names   []string
	holders map[string]int
	byConn  map[ConnID]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		holders: make(map[string]int),
		byConn:  make(map[ConnID]string),
	}
}

// Register attaches name to the connection and returns the updated snapshot.
// A connection registering again gives up its previous name.
func (r *Registry) Register(id ConnID, name string) []string {
	if prev, ok := r.byConn[id]; ok {
		if prev == name {
			return r.Snapshot()
		}
		r.release(prev)
	}

	r.byConn[id] = name
	r.holders[name]++
	if r.holders[name] == 1 {
		r.names = append(r.names, name)
	}
	return r.Snapshot()
}

// Unregister releases the connection's name. ok is false, and nothing
// changes, when the connection never registered.
func (r *Registry) Unregister(id ConnID) (snapshot []string, name string, ok bool) {
	name, ok = r.byConn[id]
	if !ok {
		return r.Snapshot(), "", false
	}
	delete(r.byConn, id)
	r.release(name)
	return r.Snapshot(), name, true
}

// NameOf returns the name registered by the connection.
func (r *Registry) NameOf(id ConnID) (string, bool) {
	name, ok := r.byConn[id]
	return name, ok
}

// Snapshot returns the active names in registration order.
func (r *Registry) Snapshot() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Len reports the number of distinct active names.
func (r *Registry) Len() int {
	return len(r.names)
}

func (r *Registry) release(name string) {
	r.holders[name]--
	if r.holders[name] > 0 {
		return
	}
	delete(r.holders, name)
	if i := slices.Index(r.names, name); i >= 0 {
		r.names = slices.Delete(r.names, i, i+1)
	}
}
