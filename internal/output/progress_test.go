package output

import (
	"bytes"
	"strings"
	"testing"
)

func TestProgressBar_NonTTYOnlyPrintsCompletion(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(100, "Archive.zip")
	p.SetWriter(buf)

	p.SetCurrent(50)
	if buf.Len() != 0 {
		t.Errorf("non-TTY writer got intermediate output: %q", buf.String())
	}

	p.SetCurrent(100)
	out := buf.String()
	if !strings.Contains(out, "100%") || !strings.Contains(out, "Archive.zip") {
		t.Errorf("completion line missing fields: %q", out)
	}

	p.Finish()
	if strings.Count(buf.String(), "100%") != 1 {
		t.Errorf("Finish() duplicated the completion line: %q", buf.String())
	}
}

func TestProgressBar_IgnoresRegression(t *testing.T) {
	p := NewProgress(100, "x")
	p.SetWriter(&bytes.Buffer{})

	p.SetCurrent(60)
	p.SetCurrent(40)
	if p.current != 60 {
		t.Errorf("current = %d after a lower report, want 60", p.current)
	}
	p.SetCurrent(500)
	if p.current != 100 {
		t.Errorf("current = %d, want clamp to total", p.current)
	}
}

func TestProgressBar_FinishRenders(t *testing.T) {
	buf := &bytes.Buffer{}
	p := NewProgress(10, "a.zip")
	p.SetWriter(buf)
	p.Finish()
	if !strings.Contains(buf.String(), "100%") {
		t.Errorf("Finish() output = %q", buf.String())
	}
}

func TestFormatBar(t *testing.T) {
	tests := []struct {
		current, total int64
		want           string
	}{
		{0, 100, "[          ]   0%"},
		{50, 100, "[====>     ]  50%"},
		{100, 100, "[=========>] 100%"},
		{5, 0, "[          ]   0%"},
	}
	for _, tt := range tests {
		if got := FormatBar(tt.current, tt.total, 10); got != tt.want {
			t.Errorf("FormatBar(%d, %d) = %q, want %q", tt.current, tt.total, got, tt.want)
		}
	}
}

func TestSpinner_NonTTY(t *testing.T) {
	buf := &bytes.Buffer{}
	s := NewSpinner("Installing")
	s.SetWriter(buf)

	s.Start()
	s.Start()
	s.StopWithMessage("done")
	s.Stop()

	out := buf.String()
	if strings.Count(out, "Installing...") != 1 {
		t.Errorf("message printed %d times, want once: %q", strings.Count(out, "Installing..."), out)
	}
	if !strings.HasSuffix(out, "done\n") {
		t.Errorf("final message missing: %q", out)
	}
}
