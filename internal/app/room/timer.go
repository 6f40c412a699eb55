package room

import "time"

// timer is a re-armable one-shot timer owned by the worker goroutine.
// C returns nil while disarmed so a select never sees a stale fire.
type timer struct {
	t     *time.Timer
	armed bool
}

func (t *timer) arm(d time.Duration) {
	if t.t == nil {
		t.t = time.NewTimer(d)
	} else {
		t.t.Reset(d)
	}
	t.armed = true
}

func (t *timer) stop() {
	if t.t != nil {
		t.t.Stop()
	}
	t.armed = false
}

// fired must be called after a value was received from C.
func (t *timer) fired() {
	t.armed = false
}

func (t *timer) C() <-chan time.Time {
	if !t.armed {
		return nil
	}
	return t.t.C
}
