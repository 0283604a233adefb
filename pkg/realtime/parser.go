package realtime

import (
	"log"
	"strings"
)

// rawEvent is one fully framed event-stream record before JSON decoding.
type rawEvent struct {
	Name EventType
	Data string
}

// parser incrementally frames the text/event-stream protocol. A trailing
// incomplete line stays buffered until the next chunk completes it.
type parser struct {
	buf         strings.Builder
	pendingName EventType
	pendingData []string
}

// feed appends one chunk of bytes and returns every event completed by it.
func (p *parser) feed(chunk []byte) []rawEvent {
	p.buf.WriteString(string(chunk))
	text := p.buf.String()

	var events []rawEvent
	for {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			break
		}
		line := strings.TrimSuffix(text[:idx], "\r")
		text = text[idx+1:]

		if ev := p.consumeLine(line); ev != nil {
			events = append(events, *ev)
		}
	}

	p.buf.Reset()
	p.buf.WriteString(text)
	return events
}

func (p *parser) consumeLine(line string) *rawEvent {
	switch {
	case line == "":
		// Blank line terminates the record; dispatch only when both a
		// name and a non-empty payload were accumulated.
		name, data := p.pendingName, strings.Join(p.pendingData, "\n")
		p.pendingName = ""
		p.pendingData = nil
		if name != "" && data != "" {
			return &rawEvent{Name: name, Data: data}
		}
		return nil
	case strings.HasPrefix(line, ":"):
		// Keep-alive comment.
		log.Printf("Event stream keep-alive: %s", strings.TrimSpace(line[1:]))
		return nil
	case strings.HasPrefix(line, "event:"):
		p.pendingName = EventType(strings.TrimSpace(line[len("event:"):]))
		return nil
	case strings.HasPrefix(line, "data:"):
		p.pendingData = append(p.pendingData, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		return nil
	default:
		// Unknown field names are ignored per the event-stream grammar.
		return nil
	}
}
