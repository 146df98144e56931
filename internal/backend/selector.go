package backend

// Filter restricts selection to backends it accepts. A nil Filter accepts
// every backend.
type Filter func(*Backend) bool

// StrategyFilter accepts backends using the given bind strategy.
func StrategyFilter(strategy string) Filter {
	return func(b *Backend) bool { return b.Strategy() == strategy }
}

// candidate is a snapshot of one selectable entry.
type candidate struct {
	entry    *Entry
	load     int
	priority int
	weight   int
	order    int
	id       uint64
}

// better reports whether c should be chosen over o. Fewest assigned
// operations wins, then lower priority, then higher weight, then
// configuration order, then dial order.
func (c candidate) better(o *candidate) bool {
	if o == nil {
		return true
	}
	if c.load != o.load {
		return c.load < o.load
	}
	if c.priority != o.priority {
		return c.priority < o.priority
	}
	if c.weight != o.weight {
		return c.weight > o.weight
	}
	if c.order != o.order {
		return c.order < o.order
	}
	return c.id < o.id
}

// maxSelectAttempts bounds retries when a chosen entry is taken between
// the scan and the reservation.
const maxSelectAttempts = 4

// Select picks a ready, shared upstream connection with spare capacity and
// reserves one operation slot on it. The caller must Release the entry
// when the operation ends.
//
// When nothing is selectable Select asks eligible backends to grow their
// pools and returns ErrNoConnection if a dial is in progress, or
// ErrNoBackend if no backend can serve at all.
func (r *Registry) Select(filter Filter) (*Entry, error) {
	return r.selectEntry(filter, false)
}

// SelectExclusive picks a ready connection with no operations assigned,
// reserves one slot on it and marks it bound-exclusive in the same step.
// A connection still carrying other clients' operations is never taken.
// When no idle connection exists the pools are grown as for Select.
func (r *Registry) SelectExclusive(filter Filter) (*Entry, error) {
	return r.selectEntry(filter, true)
}

// usableLocked reports whether e can take one more operation, or, when
// exclusive, whether it is idle.
func (b *Backend) usableLocked(e *Entry, exclusive bool) bool {
	if e.state != StateReady {
		return false
	}
	if exclusive {
		return e.assigned == 0
	}
	return e.assigned < b.cfg.MaxPendingOps
}

func (r *Registry) selectEntry(filter Filter, exclusive bool) (*Entry, error) {
	backends := r.Backends()
	now := r.opts.now()

	for attempt := 0; attempt < maxSelectAttempts; attempt++ {
		var best *candidate
		for i, b := range backends {
			if filter != nil && !filter(b) {
				continue
			}
			b.mu.Lock()
			if b.eligibleLocked(now) {
				for _, e := range b.entries {
					if !b.usableLocked(e, exclusive) {
						continue
					}
					c := candidate{
						entry:    e,
						load:     e.assigned,
						priority: b.cfg.Priority,
						weight:   b.cfg.Weight,
						order:    i,
						id:       e.id,
					}
					if c.better(best) {
						best = &c
					}
				}
			}
			b.mu.Unlock()
		}
		if best == nil {
			break
		}

		b := best.entry.backend
		b.mu.Lock()
		e := best.entry
		if b.usableLocked(e, exclusive) && b.eligibleLocked(now) {
			e.assigned++
			if exclusive {
				e.state = StateBoundExclusive
			}
			b.mu.Unlock()
			return e, nil
		}
		b.mu.Unlock()
	}

	pending := false
	for _, b := range backends {
		if filter != nil && !filter(b) {
			continue
		}
		if b.grow(now) {
			pending = true
			continue
		}
		b.mu.Lock()
		if b.eligibleLocked(now) && (b.connectingLocked() || len(b.entries) > 0) {
			pending = true
		}
		b.mu.Unlock()
	}
	if pending {
		return nil, ErrNoConnection
	}
	return nil, ErrNoBackend
}
