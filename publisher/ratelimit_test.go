package publisher_test

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/tidepool-org/cdc-worker/publisher"
)

var _ = Describe("RateLimiter", func() {
	It("doesn't block when unlimited", func() {
		limiter := publisher.NewRateLimiter(0)
		for i := 0; i < 100; i++ {
			Expect(limiter.Wait(context.Background())).To(Succeed())
		}
	})

	It("returns when the context is done while waiting", func() {
		limiter := publisher.NewRateLimiter(1)
		Expect(limiter.Wait(context.Background())).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		started := time.Now()
		Expect(limiter.Wait(ctx)).To(MatchError(context.DeadlineExceeded))
		Expect(time.Since(started)).To(BeNumerically("<", 500*time.Millisecond))
	})

	It("returns immediately when the context was cancelled", func() {
		limiter := publisher.NewRateLimiter(0)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		Expect(limiter.Wait(ctx)).To(MatchError(context.Canceled))
	})
})
