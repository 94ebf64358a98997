package relay

import (
	"container/list"
	"sync"
	"time"
)

const (
	DefaultDedupWindow     = 24 * time.Hour
	DefaultDedupMaxEntries = 10000
)

// DedupStore remembers event ids that were already accepted.
//
// Claim is the atomic check-then-insert used by intake: it returns true only
// for the first caller that presents a given id. Release undoes a claim whose
// event never made it into the queue, so a redelivery can try again.
type DedupStore interface {
	Contains(id string) bool
	Insert(id string)
	Claim(id string) bool
	Release(id string)
}

// Dedup is a TTL and capacity bounded id set. Entries are evicted in
// insertion order, oldest first. A lookup does not extend an entry's life.
type Dedup struct {
	mu    sync.Mutex
	max   int
	ttl   time.Duration
	ll    *list.List // newest at front
	items map[string]*list.Element

	now func() time.Time
}

type dedupEntry struct {
	id  string
	exp time.Time // zero means no expiry
}

// NewDedup returns a store holding at most maxEntries ids for ttl each.
// ttl <= 0 disables time based expiry; maxEntries <= 0 uses the default cap.
func NewDedup(maxEntries int, ttl time.Duration) *Dedup {
	if maxEntries <= 0 {
		maxEntries = DefaultDedupMaxEntries
	}
	return &Dedup{
		max:   maxEntries,
		ttl:   ttl,
		ll:    list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
	}
}

func (d *Dedup) Contains(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.liveLocked(id, d.now())
}

func (d *Dedup) Insert(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if d.liveLocked(id, now) {
		return
	}
	d.insertLocked(id, now)
}

func (d *Dedup) Claim(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if d.liveLocked(id, now) {
		return false
	}
	d.insertLocked(id, now)
	return true
}

func (d *Dedup) Release(id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if el, ok := d.items[id]; ok {
		d.ll.Remove(el)
		delete(d.items, id)
	}
}

// Sweep drops expired entries and returns how many were removed.
func (d *Dedup) Sweep() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sweepLocked(d.now())
}

func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ll.Len()
}

// Resize applies new bounds. Shrinking evicts the oldest entries right away;
// existing entries keep the expiry they were inserted with.
func (d *Dedup) Resize(maxEntries int, ttl time.Duration) {
	if maxEntries <= 0 {
		maxEntries = DefaultDedupMaxEntries
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.max = maxEntries
	d.ttl = ttl
	d.evictLocked()
}

func (d *Dedup) liveLocked(id string, now time.Time) bool {
	el, ok := d.items[id]
	if !ok {
		return false
	}
	en := el.Value.(dedupEntry)
	if en.exp.IsZero() || now.Before(en.exp) {
		return true
	}
	d.ll.Remove(el)
	delete(d.items, id)
	return false
}

func (d *Dedup) insertLocked(id string, now time.Time) {
	en := dedupEntry{id: id}
	if d.ttl > 0 {
		en.exp = now.Add(d.ttl)
	}
	d.items[id] = d.ll.PushFront(en)
	d.evictLocked()
	d.sweepLocked(now)
}

func (d *Dedup) evictLocked() {
	for d.ll.Len() > d.max {
		back := d.ll.Back()
		if back == nil {
			return
		}
		d.ll.Remove(back)
		delete(d.items, back.Value.(dedupEntry).id)
	}
}

// sweepLocked relies on entries being ordered by insertion, so expired ones
// collect at the back.
func (d *Dedup) sweepLocked(now time.Time) int {
	n := 0
	for {
		back := d.ll.Back()
		if back == nil {
			return n
		}
		en := back.Value.(dedupEntry)
		if en.exp.IsZero() || now.Before(en.exp) {
			return n
		}
		d.ll.Remove(back)
		delete(d.items, en.id)
		n++
	}
}
