package eventstream

const defaultDedupCapacity = 1000

// dedupWindow remembers the most recent envelope ids, evicting the oldest first.
type dedupWindow struct {
	capacity int
	ids      map[string]struct{}
	ring     []string
	next     int
}

func newDedupWindow(capacity int) *dedupWindow {
	if capacity <= 0 {
		capacity = defaultDedupCapacity
	}
	return &dedupWindow{
		capacity: capacity,
		ids:      make(map[string]struct{}, capacity),
		ring:     make([]string, 0, capacity),
	}
}

// seen reports whether id is already in the window and records it if not.
// Empty ids are never treated as duplicates.
func (d *dedupWindow) seen(id string) bool {
	if id == "" {
		return false
	}
	if _, ok := d.ids[id]; ok {
		return true
	}

	if len(d.ring) < d.capacity {
		d.ring = append(d.ring, id)
	} else {
		delete(d.ids, d.ring[d.next])
		d.ring[d.next] = id
		d.next = (d.next + 1) % d.capacity
	}
	d.ids[id] = struct{}{}
	return false
}

func (d *dedupWindow) len() int {
	return len(d.ids)
}
