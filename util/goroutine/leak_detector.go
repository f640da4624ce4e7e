package goroutine

import (
	"runtime"
	"testing"
	"time"
)

// AssertNoLeaks fails the test if the goroutine count has not returned to its
// value at the call site by the time the test's cleanups run.
//
//	func TestSomething(t *testing.T) {
//	    goroutine.AssertNoLeaks(t)
//	    ...
//	}
func AssertNoLeaks(t testing.TB) {
	t.Helper()
	before := runtime.NumGoroutine()

	t.Cleanup(func() {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			if runtime.NumGoroutine() <= before {
				return
			}
			time.Sleep(50 * time.Millisecond)
		}

		current := runtime.NumGoroutine()
		if current > before {
			buf := make([]byte, 1<<20)
			n := runtime.Stack(buf, true)
			t.Errorf("goroutine leak detected: started with %d goroutines, ended with %d\n%s",
				before, current, buf[:n])
		}
	})
}
