package utils

import (
	"bufio"
	"strings"
)

/*
SSEFrame is one server-sent event as read off the wire.
*/
type SSEFrame struct {
	ID    string
	Event string
	Data  string
}

/*
ReadSSE reads up to the blank line that ends a frame. Comments and keep-alive
lines are skipped, multiple data lines are joined with newlines.
*/
func ReadSSE(reader *bufio.Reader) (SSEFrame, error) {
	var (
		frame   SSEFrame
		data    strings.Builder
		inFrame bool
	)

	for {
		line, err := reader.ReadString('\n')

		if err != nil {
			return frame, err
		}

		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if inFrame {
				frame.Data = data.String()
				return frame, nil
			}
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "id:"):
			inFrame = true
			frame.ID = strings.TrimSpace(line[3:])
		case strings.HasPrefix(line, "event:"):
			inFrame = true
			frame.Event = strings.TrimSpace(line[6:])
		case strings.HasPrefix(line, "data:"):
			inFrame = true

			if data.Len() > 0 {
				data.WriteString("\n")
			}

			data.WriteString(strings.TrimPrefix(line[5:], " "))
		}
	}
}
