package extension

import "sync"

// registry is an ordered set of named listener functions.
type registry[F any] struct {
	sync.RWMutex
	names []string
	funcs []F
}

func (r *registry[F]) add(name string, f F) {
	r.Lock()
	defer r.Unlock()
	r.lockedRemove(name)
	r.names = append(r.names, name)
	r.funcs = append(r.funcs, f)
}

func (r *registry[F]) remove(name string) {
	r.Lock()
	defer r.Unlock()
	r.lockedRemove(name)
}

func (r *registry[F]) lockedRemove(name string) {
	for i, entry := range r.names {
		if entry == name {
			r.names = append(r.names[:i], r.names[i+1:]...)
			r.funcs = append(r.funcs[:i], r.funcs[i+1:]...)
			return
		}
	}
}

// snapshot returns the current listener functions in priority order.
func (r *registry[F]) snapshot() []F {
	r.RLock()
	defer r.RUnlock()
	return append([]F(nil), r.funcs...)
}

// Listeners returns the registered listener names in priority order.
func (r *registry[F]) Listeners() []string {
	r.RLock()
	defer r.RUnlock()
	return append([]string(nil), r.names...)
}
