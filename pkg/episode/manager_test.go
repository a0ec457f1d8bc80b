package episode

import (
	"context"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/theapemachine/mnemo/pkg/memory"
)

func TestGetOrCreateCurrent(t *testing.T) {
	Convey("Given an episode manager with a controllable clock", t, func() {
		ctx := context.Background()
		store := memory.NewInMemoryStore()
		scope := memory.Scope{User: "u1", Persona: "p1"}

		now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
		manager := NewManager(store, WithNow(func() time.Time { return now }))

		first, err := manager.GetOrCreateCurrent(ctx, scope, "Let's plan the hiking trip")
		So(err, ShouldBeNil)
		So(first.TopicSummary, ShouldEqual, "Let's plan the hiking trip")
		So(first.StartTime, ShouldEqual, now)

		Convey("A turn inside the window should continue the episode", func() {
			now = now.Add(3*time.Hour + 59*time.Minute)

			again, err := manager.GetOrCreateCurrent(ctx, scope, "more")
			So(err, ShouldBeNil)
			So(again.ID, ShouldEqual, first.ID)
		})

		Convey("Touching should extend continuity past the original window", func() {
			manager.Touch(ctx, first.ID, now.Add(3*time.Hour))
			now = now.Add(6 * time.Hour)

			again, _ := manager.GetOrCreateCurrent(ctx, scope, "still here")
			So(again.ID, ShouldEqual, first.ID)
			So(again.EndTime, ShouldEqual, first.StartTime.Add(3*time.Hour))
		})

		Convey("Exactly four hours of silence should start a new episode", func() {
			now = now.Add(4 * time.Hour)

			next, err := manager.GetOrCreateCurrent(ctx, scope, "new topic")
			So(err, ShouldBeNil)
			So(next.ID, ShouldNotEqual, first.ID)
			So(next.StartTime, ShouldEqual, now)
			So(next.EndTime, ShouldEqual, now)
		})

		Convey("Touch with an earlier time should be a no-op", func() {
			manager.Touch(ctx, first.ID, now.Add(time.Hour))
			out, _ := manager.Touch(ctx, first.ID, now.Add(time.Minute))
			So(out.EndTime, ShouldEqual, now.Add(time.Hour))
		})

		Convey("Scopes should not share episodes", func() {
			other, _ := manager.GetOrCreateCurrent(ctx, memory.Scope{User: "u1", Persona: "p2"}, "hi")
			So(other.ID, ShouldNotEqual, first.ID)
		})

		Convey("Current should not create anything", func() {
			now = now.Add(5 * time.Hour)

			current, err := manager.Current(ctx, scope)
			So(err, ShouldBeNil)
			So(current, ShouldBeNil)
		})
	})
}

func TestSummarize(t *testing.T) {
	Convey("Given a long seed message", t, func() {
		seed := strings.Repeat("word ", 40)
		summary := Summarize(seed)

		Convey("It should be cut at a word boundary with an ellipsis", func() {
			So(len([]rune(summary)), ShouldBeLessThanOrEqualTo, topicSummaryRunes+1)
			So(strings.HasSuffix(summary, "word…"), ShouldBeTrue)
		})
	})
}
