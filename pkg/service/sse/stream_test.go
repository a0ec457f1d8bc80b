package sse

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type payload struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("broken pipe")
}

func TestStream(t *testing.T) {
	Convey("Given a closed channel of events", t, func() {
		events := make(chan payload, 2)
		events <- payload{Kind: "text", Text: "hel"}
		events <- payload{Kind: "done"}
		close(events)

		var buf bytes.Buffer
		err := Stream(bufio.NewWriter(&buf), events, func(p payload) string { return p.Kind }, time.Minute)

		Convey("Each event should be framed and the stream should end cleanly", func() {
			So(err, ShouldBeNil)
			So(buf.String(), ShouldEqual,
				"event: text\ndata: {\"kind\":\"text\",\"text\":\"hel\"}\n\n"+
					"event: done\ndata: {\"kind\":\"done\",\"text\":\"\"}\n\n")
		})
	})

	Convey("Given an idle stream", t, func() {
		events := make(chan payload)
		var buf bytes.Buffer

		go func() {
			time.Sleep(30 * time.Millisecond)
			close(events)
		}()

		Stream(bufio.NewWriter(&buf), events, func(p payload) string { return p.Kind }, 5*time.Millisecond)

		Convey("Heartbeats should be sent as comments", func() {
			So(strings.Contains(buf.String(), ": heartbeat\n\n"), ShouldBeTrue)
		})
	})

	Convey("Given a client that went away", t, func() {
		events := make(chan payload, 1)
		events <- payload{Kind: "text"}

		err := Stream(bufio.NewWriterSize(failingWriter{}, 16), events, func(p payload) string { return p.Kind }, time.Minute)

		Convey("The write error should be returned", func() {
			So(err, ShouldNotBeNil)
		})
	})
}
