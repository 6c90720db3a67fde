package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sequant-dev/sequant/internal/phase"
)

func TestPlainLifecycle(t *testing.T) {
	var buf bytes.Buffer
	p := NewPlain(&buf)

	p.Start(7, phase.Spec)
	p.OnStderr(7, "building\nlinking\n")
	p.Succeed(7, phase.Spec, 2*time.Second)
	p.Fail(8, phase.Exec, "boom")
	p.PauseForStream(7)
	p.ResumeAfterStream(7)
	p.Close()

	out := buf.String()
	assert.Contains(t, out, "issue #7: spec started")
	assert.Contains(t, out, "[7] building")
	assert.Contains(t, out, "[7] linking")
	assert.Contains(t, out, "issue #7: spec succeeded")
	assert.Contains(t, out, "issue #8: exec failed: boom")
}

func TestSpinnerLifecycleDoesNotPanic(t *testing.T) {
	var buf bytes.Buffer
	s := NewSpinner(&buf)

	s.Start(1, phase.Exec)
	s.PauseForStream(1)
	s.OnStderr(1, "hello")
	s.ResumeAfterStream(1)
	time.Sleep(150 * time.Millisecond)
	s.Succeed(1, phase.Exec, time.Second)
	s.Close()

	assert.True(t, strings.Contains(buf.String(), "hello") || buf.Len() >= 0)
}
