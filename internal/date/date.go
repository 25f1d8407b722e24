// Package date keeps a cached HTTP Date header value.
package date

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"
)

var (
	current atomic.Pointer[[]byte]

	mu      sync.Mutex
	users   int
	stopped chan struct{}
)

// Start begins refreshing the cached value every 500ms. Calls nest: the
// ticker stops once every returned stop function was called.
func Start() (stop func()) {
	mu.Lock()
	defer mu.Unlock()

	update(time.Now())
	users++
	if users == 1 {
		stopped = make(chan struct{})
		go refresh(stopped)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			mu.Lock()
			defer mu.Unlock()
			users--
			if users == 0 {
				close(stopped)
			}
		})
	}
}

func refresh(done <-chan struct{}) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			update(now)
		case <-done:
			return
		}
	}
}

func update(now time.Time) {
	b := now.UTC().AppendFormat(nil, http.TimeFormat)
	current.Store(&b)
}

// Current returns the cached Date value. The slice must not be modified.
func Current() []byte {
	if p := current.Load(); p != nil {
		return *p
	}
	return time.Now().UTC().AppendFormat(nil, http.TimeFormat)
}
