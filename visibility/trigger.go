// Package visibility turns "this element became visible" reports into a
// load-more signal, independent of any rendering technology.
package visibility

import "sync"

// Trigger watches a single "last item". The host reports visibility through
// Reach; the attached callback fires at most once per attached id and only
// while ready() holds.
type Trigger struct {
	ready func() bool

	mu    sync.Mutex
	id    string
	fn    func()
	fired bool
}

// New returns a trigger gated by ready (typically hasNextPage && !fetching).
// A nil ready always allows firing.
func New(ready func() bool) *Trigger {
	if ready == nil {
		ready = func() bool { return true }
	}
	return &Trigger{ready: ready}
}

// Attach points the trigger at id. Attaching the id that is already attached
// only swaps the callback; any other id starts a fresh once-only window.
func (t *Trigger) Attach(id string, onReachEnd func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id != t.id {
		t.fired = false
	}
	t.id = id
	t.fn = onReachEnd
}

// Detach removes the attachment if id is still the attached one.
func (t *Trigger) Detach(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.id == id {
		t.id = ""
		t.fn = nil
		t.fired = false
	}
}

// Attached returns the currently watched id ("" if none).
func (t *Trigger) Attached() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// Reach reports that the element id became reachable and returns whether the
// callback fired. ready and the callback run without the trigger's lock held.
func (t *Trigger) Reach(id string) bool {
	if !t.armed(id) {
		return false
	}
	if !t.ready() {
		return false
	}

	t.mu.Lock()
	if id == "" || id != t.id || t.fired || t.fn == nil {
		t.mu.Unlock()
		return false
	}
	t.fired = true
	fn := t.fn
	t.mu.Unlock()

	fn()
	return true
}

func (t *Trigger) armed(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return id != "" && id == t.id && !t.fired && t.fn != nil
}
