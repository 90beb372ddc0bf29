package authtests

import (
	"errors"
	"sync"
)

// Registry tracks every live Connection created during a run, so that a test can release all of
// them at once when it ends, whatever state it left them in.
//
// A Connection adds itself when it starts and removes itself when it stops. StopAll stops each
// member exactly once, even if a member is concurrently being stopped by the test.
type Registry struct {
	members []*Connection
	lock    sync.Mutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) add(c *Connection) {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, m := range r.members {
		if m == c {
			return
		}
	}
	r.members = append(r.members, c)
}

func (r *Registry) remove(c *Connection) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	for i, m := range r.members {
		if m == c {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered connections.
func (r *Registry) Len() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return len(r.members)
}

// Connections returns the registered connections in the order they were started.
func (r *Registry) Connections() []*Connection {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*Connection(nil), r.members...)
}

// StopAll stops every registered connection and empties the Registry. Errors from individual
// connections are joined; one failure does not prevent the others from being stopped.
func (r *Registry) StopAll() error {
	r.lock.Lock()
	members := r.members
	r.members = nil
	r.lock.Unlock()

	var errs []error
	for _, c := range members {
		if err := c.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
