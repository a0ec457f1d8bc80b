package auth

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRateLimiterAllow(t *testing.T) {
	Convey("Given a limiter with capacity 2", t, func() {
		clock := time.Now()
		rl := NewRateLimiter(2, time.Second)
		rl.now = func() time.Time { return clock }
		rl.last = clock

		ok1 := rl.Allow()
		ok2 := rl.Allow()
		ok3 := rl.Allow()

		Convey("Then the third call should be limited", func() {
			So(ok1, ShouldBeTrue)
			So(ok2, ShouldBeTrue)
			So(ok3, ShouldBeFalse)
			So(rl.WaitTime(), ShouldEqual, 500*time.Millisecond)
		})

		Convey("And after half a second it allows again", func() {
			clock = clock.Add(500 * time.Millisecond)
			So(rl.Allow(), ShouldBeTrue)
			So(rl.Allow(), ShouldBeFalse)
		})

		Convey("And a reset refills the bucket", func() {
			rl.Reset()
			So(rl.Allow(), ShouldBeTrue)
		})
	})
}

func TestLimiters(t *testing.T) {
	Convey("Given per-key limiters", t, func() {
		limiters := NewLimiters(1, time.Minute)

		Convey("Keys should not share a bucket", func() {
			So(limiters.Allow("a"), ShouldBeTrue)
			So(limiters.Allow("a"), ShouldBeFalse)
			So(limiters.Allow("b"), ShouldBeTrue)
			So(limiters.WaitTime("c"), ShouldEqual, 0)
		})
	})
}
