package core

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/qbloq/livesql/core/internal/qcode"
)

const defaultQueryCacheSize = 5000

type compiled struct {
	sql    string
	params []qcode.Scalar
}

// Cache keeps compiled statements keyed by the query's canonical JSON.
type Cache struct {
	cache *lru.TwoQueueCache[string, *compiled]
}

// initCache initializes the cache
func (e *Engine) initCache() (err error) {
	size := e.conf.QueryCacheSize
	if size <= 0 {
		size = defaultQueryCacheSize
	}
	e.cache.cache, err = lru.New2Q[string, *compiled](size)
	return
}

// Get returns the value from the cache
func (c Cache) Get(key string) (val *compiled, fromCache bool) {
	val, fromCache = c.cache.Get(key)
	return
}

// Set sets the value in the cache
func (c Cache) Set(key string, val *compiled) {
	c.cache.Add(key, val)
}
