package app

import "sync"

// flights counts asynchronous batch deliveries so shutdown can wait for them.
// Once draining starts no new flight may begin.
type flights struct {
	mu       sync.Mutex
	n        int
	draining bool
	idle     chan struct{}
}

func (f *flights) begin() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.draining {
		return false
	}
	f.n++
	return true
}

func (f *flights) end() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.n--
	if f.n == 0 && f.idle != nil {
		close(f.idle)
		f.idle = nil
	}
}

// drain stops new flights and returns a channel closed once none remain.
func (f *flights) drain() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.draining = true
	ch := make(chan struct{})
	if f.n == 0 {
		close(ch)
		return ch
	}
	f.idle = ch
	return ch
}
