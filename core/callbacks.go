package core

import "sync"

// DeliveryFunc is invoked once per (originator, round) when its value gets
// delivered on this node.
type DeliveryFunc func(origin string, round uint64, value string)

// callbackStore keeps the functions to notify on new deliveries and fans
// deliveries out to them without blocking the protocol.
type callbackStore struct {
	sync.Mutex
	cbs map[string]DeliveryFunc
}

func newCallbackStore() *callbackStore {
	return &callbackStore{cbs: make(map[string]DeliveryFunc)}
}

func (c *callbackStore) add(id string, fn DeliveryFunc) {
	c.Lock()
	defer c.Unlock()
	c.cbs[id] = fn
}

func (c *callbackStore) remove(id string) {
	c.Lock()
	defer c.Unlock()
	delete(c.cbs, id)
}

func (c *callbackStore) notify(origin string, round uint64, value string) {
	go func() {
		c.Lock()
		defer c.Unlock()
		for _, cb := range c.cbs {
			cb(origin, round, value)
		}
	}()
}
