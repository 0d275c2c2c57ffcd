package handler

import (
	"bytes"
	"fmt"
	"io"
)

// Event is one server-sent event. Data may span multiple lines; each line is
// written as its own data field per the SSE wire format.
type Event struct {
	ID    []byte
	Event []byte
	Data  []byte
}

func (ev *Event) MarshalTo(w io.Writer) error {
	if len(ev.Data) == 0 {
		return nil
	}

	if _, err := fmt.Fprintf(w, "id: %s\n", ev.ID); err != nil {
		return err
	}

	if len(ev.Event) > 0 {
		if _, err := fmt.Fprintf(w, "event: %s\n", ev.Event); err != nil {
			return err
		}
	}

	sd := bytes.Split(ev.Data, []byte("\n"))
	for i := range sd {
		if _, err := fmt.Fprintf(w, "data: %s\n", sd[i]); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(w, "\n"); err != nil {
		return err
	}

	return nil
}
