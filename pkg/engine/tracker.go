package engine

// tracker deduplicates structural rewrites: a (consumer, producer, output)
// triple is rewritten at most once over the whole engine run.
type tracker struct {
	applied map[string]bool
	keys    []string // application order, reported in the result
}

func newTracker() *tracker {
	return &tracker{applied: make(map[string]bool)}
}

func (t *tracker) Applied(key string) bool { return t.applied[key] }

func (t *tracker) Record(key string) {
	if t.applied[key] {
		return
	}
	t.applied[key] = true
	t.keys = append(t.keys, key)
}

func (t *tracker) Keys() []string { return t.keys }
