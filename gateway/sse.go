package gateway

import (
	"fmt"
	"io"
	"strings"

	"codexgate/session"
)

// writeSSE frames one event per the text/event-stream format. Multi-line
// payloads become consecutive data: lines, which the receiving side joins
// back with newlines.
func writeSSE(w io.Writer, ev session.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Name); err != nil {
		return err
	}
	for _, line := range strings.Split(ev.Data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n")
	return err
}
