package research

import "sync"

// runBatches executes n items in sequential batches of size; items within a
// batch run concurrently and batch K+1 does not start until batch K has
// fully settled. fn must absorb its own failures and convert them into
// values the caller reads back by index.
func runBatches(n, size int, fn func(i int)) {
	if size < 1 {
		size = 1
	}
	for start := 0; start < n; start += size {
		end := start + size
		if end > n {
			end = n
		}
		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				fn(i)
			}(i)
		}
		wg.Wait()
	}
}
