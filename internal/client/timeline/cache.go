// Package timeline implements the ordered, paginated, deduplicated message
// store for one conversation. Pages are kept in fetch order internally, but
// every read flattens and re-sorts, because pages fetched at different times
// interleave with live inserts.
package timeline

import (
	"sort"
	"sync"

	"github.com/dmitrijs2005/chatline/internal/client/models"
)

// Cache holds one conversation's fetched pages plus live inserts. All
// methods are safe for concurrent use; every open view of the conversation
// shares a single Cache.
type Cache struct {
	mu sync.Mutex

	// pages[0] is the head (newest history plus live inserts); older pages
	// are appended as the caller walks the cursor backwards.
	pages      [][]models.Message
	nextCursor string
	hasMore    bool
	fetched    bool
}

// Snapshot is a deep copy of the cache state, used for mutation rollback.
type Snapshot struct {
	pages      [][]models.Message
	nextCursor string
	hasMore    bool
	fetched    bool
}

func New() *Cache {
	return &Cache{}
}

// Fetched reports whether an initial page has been loaded.
func (c *Cache) Fetched() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fetched
}

// NextCursor returns the opaque cursor for the next older page.
func (c *Cache) NextCursor() (cursor string, hasMore bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextCursor, c.hasMore
}

// MergePage appends a fetched page of older history. Messages whose id is
// already present anywhere in the cache are skipped, so a live insert that
// raced the fetch is never duplicated and local state on it is preserved.
func (c *Cache) MergePage(p models.Page) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := c.idsLocked()
	page := make([]models.Message, 0, len(p.Messages))
	for _, m := range p.Messages {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		page = append(page, m)
	}

	c.fetched = true
	c.pages = append(c.pages, page)
	c.nextCursor = p.NextCursor
	c.hasMore = p.HasMore
}

// MergeHead inserts any messages not already present into the head page,
// leaving existing entries and the older-history cursor untouched. Used to
// reconcile events missed during a transport gap: the refetched head page
// must not clobber local state or the loadMore position.
func (c *Cache) MergeHead(msgs []models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	seen := c.idsLocked()
	if len(c.pages) == 0 {
		c.pages = append(c.pages, nil)
	}
	for _, m := range msgs {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		seen[m.ID] = struct{}{}
		c.pages[0] = append(c.pages[0], m)
	}
}

// Upsert inserts a message at the head page, or replaces the existing entry
// with the same id in place.
func (c *Cache) Upsert(m models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pi, page := range c.pages {
		for mi, existing := range page {
			if existing.ID == m.ID {
				c.pages[pi][mi] = m
				return
			}
		}
	}
	if len(c.pages) == 0 {
		c.pages = append(c.pages, nil)
	}
	c.pages[0] = append(c.pages[0], m)
}

// Patch applies fn to the message with the given id, in place. It reports
// whether the message was found.
func (c *Cache) Patch(id string, fn func(*models.Message)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pi, page := range c.pages {
		for mi := range page {
			if page[mi].ID == id {
				fn(&c.pages[pi][mi])
				return true
			}
		}
	}
	return false
}

// Get returns a copy of the message with the given id.
func (c *Cache) Get(id string) (models.Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, page := range c.pages {
		for _, m := range page {
			if m.ID == id {
				return m.Clone(), true
			}
		}
	}
	return models.Message{}, false
}

// Remove deletes the entry with the given id. Used only when a temporary id
// is superseded by its server-confirmed counterpart; deleted messages stay
// in the timeline as tombstones instead.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for pi, page := range c.pages {
		for mi := range page {
			if page[mi].ID == id {
				c.pages[pi] = append(page[:mi], page[mi+1:]...)
				return true
			}
		}
	}
	return false
}

// Merged returns the flattened timeline sorted by (sequence number,
// creation time) ascending. The result is a copy; mutating it does not
// affect the cache.
func (c *Cache) Merged() []models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []models.Message
	for _, page := range c.pages {
		for _, m := range page {
			out = append(out, m.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Snapshot deep-copies the cache for later rollback.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Snapshot{
		nextCursor: c.nextCursor,
		hasMore:    c.hasMore,
		fetched:    c.fetched,
	}
	s.pages = make([][]models.Message, len(c.pages))
	for pi, page := range c.pages {
		s.pages[pi] = make([]models.Message, len(page))
		for mi, m := range page {
			s.pages[pi][mi] = m.Clone()
		}
	}
	return s
}

// Restore replaces the cache state with a previously taken snapshot,
// verbatim.
func (c *Cache) Restore(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextCursor = s.nextCursor
	c.hasMore = s.hasMore
	c.fetched = s.fetched
	c.pages = make([][]models.Message, len(s.pages))
	for pi, page := range s.pages {
		c.pages[pi] = make([]models.Message, len(page))
		for mi, m := range page {
			c.pages[pi][mi] = m.Clone()
		}
	}
}

// Invalidate drops all cached pages so the next read refetches from the
// server. Used for the missing-sequence recovery path and bulk receipt
// events that do not enumerate ids.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pages = nil
	c.nextCursor = ""
	c.hasMore = false
	c.fetched = false
}

func (c *Cache) idsLocked() map[string]struct{} {
	seen := make(map[string]struct{})
	for _, page := range c.pages {
		for _, m := range page {
			seen[m.ID] = struct{}{}
		}
	}
	return seen
}
