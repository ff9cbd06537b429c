// Copyright 2020-2021 Dolthub, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package metadata implements the entity/attribute metadata cache: the
// entity list never expires once loaded, per-entity attribute/relationship
// descriptors expire after a configurable TTL (default 5 minutes), and
// concurrent requests for the same uncached entity coalesce into a single
// upstream load.
package metadata

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/joshsmithxrm/ppds-sdk-sub001/sql"
)

// Loader fetches metadata from the real Dataverse metadata service. The
// cache holds no knowledge of HTTP/OData; it only owns expiry and
// coalescing, keeping that separate from the in-memory registry it backs.
type Loader interface {
	LoadEntities() ([]string, error)
	LoadEntity(name string) (sql.EntityMetadata, error)
}

type entityEntry struct {
	meta     sql.EntityMetadata
	loadedAt time.Time
}

// Cache is a two-tier metadata cache implementing sql.MetadataProvider.
type Cache struct {
	loader Loader
	ttl    time.Duration

	mu       sync.RWMutex
	entities []string // indefinite: the entity list is cached indefinitely
	haveList bool
	byEntity map[string]entityEntry

	group singleflight.Group
}

// New returns a Cache with the given per-entity TTL. A zero ttl applies
// a default of 5 minutes.
func New(loader Loader, ttl time.Duration) *Cache {
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{loader: loader, ttl: ttl, byEntity: make(map[string]entityEntry)}
}

// Entities returns the full entity list, loading it once and caching
// indefinitely thereafter.
func (c *Cache) Entities(ctx *sql.Context) ([]string, error) {
	c.mu.RLock()
	if c.haveList {
		defer c.mu.RUnlock()
		return c.entities, nil
	}
	c.mu.RUnlock()

	v, err, _ := c.group.Do("__entities__", func() (interface{}, error) {
		c.mu.RLock()
		if c.haveList {
			defer c.mu.RUnlock()
			return c.entities, nil
		}
		c.mu.RUnlock()
		list, err := c.loader.LoadEntities()
		if err != nil {
			return nil, sql.ErrRemoteFailure.New(err.Error())
		}
		c.mu.Lock()
		c.entities = list
		c.haveList = true
		c.mu.Unlock()
		return list, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]string), nil
}

// Entity returns one entity's attribute/relationship metadata, refreshing
// it if the cached copy has exceeded the TTL. Concurrent callers asking
// for the same stale/missing entity share one upstream load via
// golang.org/x/sync/singleflight rather than issuing duplicate requests.
func (c *Cache) Entity(ctx *sql.Context, logicalName string) (sql.EntityMetadata, error) {
	c.mu.RLock()
	e, ok := c.byEntity[logicalName]
	c.mu.RUnlock()
	if ok && time.Since(e.loadedAt) < c.ttl {
		return e.meta, nil
	}

	v, err, _ := c.group.Do(logicalName, func() (interface{}, error) {
		c.mu.RLock()
		e, ok := c.byEntity[logicalName]
		c.mu.RUnlock()
		if ok && time.Since(e.loadedAt) < c.ttl {
			return e.meta, nil
		}
		meta, err := c.loader.LoadEntity(logicalName)
		if err != nil {
			return sql.EntityMetadata{}, sql.ErrRemoteFailure.New(err.Error())
		}
		c.mu.Lock()
		c.byEntity[logicalName] = entityEntry{meta: meta, loadedAt: time.Now()}
		c.mu.Unlock()
		return meta, nil
	})
	if err != nil {
		return sql.EntityMetadata{}, err
	}
	return v.(sql.EntityMetadata), nil
}

// InvalidateEntity evicts one entity's cached attribute/relationship
// metadata, forcing the next Entity call to reload.
func (c *Cache) InvalidateEntity(logicalName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byEntity, logicalName)
}

// InvalidateAll evicts the entity list and every cached entity's metadata.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.haveList = false
	c.entities = nil
	c.byEntity = make(map[string]entityEntry)
}
