package submission

import (
	"context"
	"log"
	"sort"
	"time"

	"emp-payments-backend/internal/models"

	"github.com/google/uuid"
)

const DefaultFlushInterval = 5 * time.Second

type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Checkpointer buffers dirty row indices and writes them out at most once per
// interval. Final always writes, with recomputed counters.
type Checkpointer struct {
	store    UploadStore
	uploadID uuid.UUID
	interval time.Duration
	clock    Clock

	last    time.Time
	dirty   map[int]bool
	flushes int
}

func NewCheckpointer(store UploadStore, uploadID uuid.UUID, interval time.Duration, clock Clock) *Checkpointer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Checkpointer{
		store:    store,
		uploadID: uploadID,
		interval: interval,
		clock:    clock,
		last:     clock.Now(),
		dirty:    map[int]bool{},
	}
}

func (c *Checkpointer) MarkDirty(indices ...int) {
	for _, i := range indices {
		c.dirty[i] = true
	}
}

func (c *Checkpointer) Flushes() int {
	return c.flushes
}

// MaybeFlush writes the dirty rows if the interval has elapsed since the last
// write. A failed write is logged and the rows stay dirty for the next one.
func (c *Checkpointer) MaybeFlush(ctx context.Context, rows []models.RowState) bool {
	if len(c.dirty) == 0 || c.clock.Now().Sub(c.last) < c.interval {
		return false
	}
	if err := c.write(ctx, rows, models.CountRows(rows)); err != nil {
		log.Printf("[SUBMIT] upload %s: checkpoint of %d rows failed: %v", c.uploadID, len(c.dirty), err)
		return false
	}
	return true
}

// Final writes whatever is left together with the recomputed counters.
func (c *Checkpointer) Final(ctx context.Context, rows []models.RowState) (models.Counters, error) {
	counters := models.CountRows(rows)
	if err := c.write(ctx, rows, counters); err != nil {
		return counters, err
	}
	return counters, nil
}

func (c *Checkpointer) write(ctx context.Context, rows []models.RowState, counters models.Counters) error {
	patch := make(map[int]models.RowState, len(c.dirty))
	for _, i := range c.dirtyIndices() {
		if i < len(rows) {
			patch[i] = rows[i]
		}
	}
	if err := c.store.PatchRows(ctx, c.uploadID, patch, counters); err != nil {
		return err
	}
	c.dirty = map[int]bool{}
	c.last = c.clock.Now()
	c.flushes++
	return nil
}

func (c *Checkpointer) dirtyIndices() []int {
	out := make([]int, 0, len(c.dirty))
	for i := range c.dirty {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}
