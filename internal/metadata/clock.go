package metadata

import (
	"sync"
	"time"
)

// timestampLayout — yyyyMMddHHmmss, 14 цифр.
const timestampLayout = "20060102150405"

// batchClock — часы для timestamp и batch ID.
// Значения в пределах процесса не убывают, даже если системное время откатилось.
type batchClock struct {
	mu   sync.Mutex
	now  func() time.Time
	last string
}

func newBatchClock(now func() time.Time) *batchClock {
	if now == nil {
		now = time.Now
	}
	return &batchClock{now: now}
}

// Timestamp возвращает текущий timestamp в UTC.
// Строки фиксированной ширины из цифр сравниваются лексикографически.
func (c *batchClock) Timestamp() string {
	ts := c.now().UTC().Format(timestampLayout)

	c.mu.Lock()
	defer c.mu.Unlock()
	if ts < c.last {
		ts = c.last
	}
	c.last = ts
	return ts
}
