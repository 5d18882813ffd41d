package fusion

import (
	"context"
	"sync"

	"github.com/agatticelli/cex-clmm-arbitrage/internal/quote"
)

// Merge fans the inputs into one unbuffered channel. Each input gets its own
// forwarding goroutine, so whichever feed is ready is served first and no
// feed is polled. The output closes once every input has closed or ctx is
// done.
func Merge(ctx context.Context, inputs ...<-chan quote.Update) <-chan quote.Update {
	out := make(chan quote.Update)

	var wg sync.WaitGroup
	wg.Add(len(inputs))
	for _, in := range inputs {
		go func(in <-chan quote.Update) {
			defer wg.Done()
			for {
				select {
				case u, ok := <-in:
					if !ok {
						return
					}
					select {
					case out <- u:
					case <-ctx.Done():
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}(in)
	}

	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
