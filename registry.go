package pulse

import "sync"

// The named-instance registry is a thin optional layer for callers that need
// name-based lookup; the primary pattern is the owned handle returned by
// NewClient. Shutdown removes an instance from the registry.
var (
	registryMu sync.Mutex
	registry   = map[string]*Client{}
)

// Instance returns the named client, creating and registering it on first
// use. Later calls with the same name return the existing client and ignore
// the key and options.
func Instance(name, apiKey string, opts ...Option) (*Client, error) {
	registryMu.Lock()
	defer registryMu.Unlock()

	if c, ok := registry[name]; ok {
		return c, nil
	}
	c, err := NewClient(apiKey, opts...)
	if err != nil {
		return nil, err
	}
	c.name = name
	registry[name] = c
	return c, nil
}

// Lookup returns the named client, or nil when none is registered.
func Lookup(name string) *Client {
	registryMu.Lock()
	defer registryMu.Unlock()
	return registry[name]
}

func deregister(name string) {
	registryMu.Lock()
	delete(registry, name)
	registryMu.Unlock()
}
