package agent

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"time"
)

// Progress tracks cumulative state while parsing a stream of agent JSON
// events, adapted from the teacher's PhaseProgress.
type Progress struct {
	SessionID     string
	Model         string
	CurrentAction string
	LastError     string
	TurnCount     int
	CostUSD       float64
	Elapsed       time.Duration
	LastUpdate    time.Time

	// TextOutput accumulates assistant text content, used by the Phase
	// Executor for QA verdict parsing.
	TextOutput strings.Builder

	// ResultSubtype is the subtype of the terminal result event, once
	// received.
	ResultSubtype string
	// ResultErrors carries the result event's free-form error strings.
	ResultErrors []string
}

// applyEvent folds one StreamEvent into p.
func applyEvent(p *Progress, ev StreamEvent) {
	switch ev.Type {
	case EventTypeSystem:
		if ev.Subtype == InitSubtype {
			p.SessionID = ev.SessionID
			p.Model = ev.Model
			p.CurrentAction = "initialized"
		}
	case EventTypeAssistant:
		if ev.ToolName != "" {
			p.CurrentAction = "tool: " + ev.ToolName
			break
		}
		if ev.Message != "" {
			p.TextOutput.WriteString(ev.Message)
			p.TextOutput.WriteByte('\n')
			p.CurrentAction = summarize(ev.Message)
		}
	case EventTypeResult:
		p.CostUSD = ev.CostUSD
		p.TurnCount = ev.NumTurns
		p.ResultSubtype = ev.Subtype
		p.ResultErrors = ev.Errors
		if ev.DurationMS > 0 {
			p.Elapsed = time.Duration(ev.DurationMS * float64(time.Millisecond))
		}
		if ev.IsError {
			p.CurrentAction = "result error"
			if ev.Message != "" {
				p.LastError = summarize(ev.Message)
			} else {
				p.LastError = "result event reported error"
			}
		} else {
			p.CurrentAction = "result received"
		}
	}
}

func summarize(s string) string {
	trimmed := strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
	const maxLen = 72
	if len(trimmed) <= maxLen {
		return trimmed
	}
	return trimmed[:maxLen-3] + "..."
}

// ParseStream reads newline-delimited JSON events from r, updating a
// Progress as it goes. If onUpdate is non-nil it is called after every
// successfully parsed event. The final Progress is returned along with the
// first non-EOF read error; malformed JSON lines are silently skipped so a
// partial stream still yields useful data.
func ParseStream(r io.Reader, onUpdate func(Progress)) (Progress, error) {
	reader := newLineReader(r)
	var p Progress

	for {
		line, readErr := reader.readLine()
		if len(line) > 0 {
			if ev, err := ParseStreamEvent(line); err == nil {
				applyEvent(&p, ev)
				p.LastUpdate = time.Now()
				if onUpdate != nil {
					onUpdate(p)
				}
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return p, readErr
		}
	}
	return p, nil
}

// lineReader is a minimal buffered newline splitter over an io.Reader,
// copied in shape from the teacher's streamLineReader: a growable byte
// buffer refilled in 64KB chunks, since bufio.Scanner's default token size
// is too small for a single assistant message line.
type lineReader struct {
	buf []byte
	r   io.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{buf: make([]byte, 0, 64*1024), r: r}
}

func (lr *lineReader) readLine() ([]byte, error) {
	for {
		if idx := bytes.IndexByte(lr.buf, '\n'); idx >= 0 {
			line := bytes.TrimSpace(lr.buf[:idx])
			lr.buf = lr.buf[idx+1:]
			return line, nil
		}

		chunk := make([]byte, 64*1024)
		n, err := lr.r.Read(chunk)
		if n > 0 {
			lr.buf = append(lr.buf, chunk[:n]...)
		}
		if err != nil {
			if err == io.EOF {
				line := bytes.TrimSpace(lr.buf)
				lr.buf = lr.buf[:0]
				return line, io.EOF
			}
			return nil, err
		}
	}
}
