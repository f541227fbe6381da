package sensor

import (
	"context"
	"log"
	"sync"
	"time"
)

type reading struct {
	value  float64
	status Status
}

// Cache holds the last reading of every polled sensor. It is safe for
// concurrent use: the poller writes it, control loops read it.
type Cache struct {
	mu       sync.RWMutex
	readings map[ID]reading
	polling  bool
	initDone bool
}

// NewCache creates an empty cache with polling enabled.
func NewCache() *Cache {
	return &Cache{
		readings: make(map[ID]reading),
		polling:  true,
	}
}

// Read implements Source.
func (c *Cache) Read(id ID) (float64, Status) {
	c.mu.RLock()
	r, ok := c.readings[id]
	c.mu.RUnlock()
	if !ok {
		return 0, StatusNotReady
	}
	if r.status != StatusOK {
		return 0, r.status
	}
	return r.value, StatusOK
}

// LastStatus implements Source.
func (c *Cache) LastStatus(id ID) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.readings[id].status
}

// Update stores a successful reading.
func (c *Cache) Update(id ID, value float64) {
	c.mu.Lock()
	c.readings[id] = reading{value: value, status: StatusOK}
	c.mu.Unlock()
}

// Fail marks the sensor's last read as failed.
func (c *Cache) Fail(id ID) {
	c.mu.Lock()
	c.readings[id] = reading{status: StatusFailed}
	c.mu.Unlock()
}

// SetPolling enables or disables sensor polling.
func (c *Cache) SetPolling(on bool) {
	c.mu.Lock()
	c.polling = on
	c.mu.Unlock()
}

// Polling reports whether sensor polling is enabled.
func (c *Cache) Polling() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.polling
}

// MarkInitDone records that every sensor has been read at least once.
func (c *Cache) MarkInitDone() {
	c.mu.Lock()
	c.initDone = true
	c.mu.Unlock()
}

// InitDone reports whether the first full poll has completed.
func (c *Cache) InitDone() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initDone
}

// Poller refreshes a Cache from a Reader.
type Poller struct {
	reader Reader
	cache  *Cache
	ids    []ID
}

// NewPoller creates a poller for the given sensors.
func NewPoller(r Reader, c *Cache, ids []ID) *Poller {
	return &Poller{reader: r, cache: c, ids: ids}
}

// PollOnce reads every sensor once. It does nothing while polling is
// disabled. The cache is marked initialized after the first full pass.
func (p *Poller) PollOnce() {
	if !p.cache.Polling() {
		return
	}
	for _, id := range p.ids {
		v, err := p.reader.ReadSensor(id)
		if err != nil {
			log.Printf("sensor: read %s: %v", id, err)
			p.cache.Fail(id)
			continue
		}
		p.cache.Update(id, v)
	}
	p.cache.MarkInitDone()
}

// Run polls on the given interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.PollOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.PollOnce()
		}
	}
}
