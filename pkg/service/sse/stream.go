package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"time"
)

/*
Stream writes every value received on events as one SSE message of the form

event: {name}
data: {json}

and flushes after each, so the client sees tokens as they arrive. A comment
heartbeat keeps idle connections open through proxies. The first failed
flush means the client is gone; Stream then returns the error and the caller
is expected to cancel the producer.
*/
func Stream[T any](w *bufio.Writer, events <-chan T, name func(T) string, heartbeat time.Duration) error {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return nil
			}

			if err := Write(w, name(event), event); err != nil {
				return err
			}
		case <-ticker.C:
			if _, err := w.WriteString(": heartbeat\n\n"); err != nil {
				return err
			}

			if err := w.Flush(); err != nil {
				return err
			}
		}
	}
}

/*
Write sends a single named event and flushes it.
*/
func Write(w *bufio.Writer, name string, v any) error {
	msg, err := json.Marshal(v)

	if err != nil {
		return err
	}

	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
		return err
	}

	return w.Flush()
}
