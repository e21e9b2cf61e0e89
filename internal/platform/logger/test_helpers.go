package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"
)

// Recorder captures JSON log lines written during a test.
type Recorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Entries decodes every captured line. Lines that are not JSON fail the test.
func (r *Recorder) Entries(t *testing.T) []map[string]any {
	t.Helper()
	r.mu.Lock()
	data := append([]byte(nil), r.buf.Bytes()...)
	r.mu.Unlock()

	var entries []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %v: %s", err, sc.Text())
		}
		entries = append(entries, entry)
	}
	return entries
}

// Find returns the first entry whose message is msg, or nil.
func (r *Recorder) Find(t *testing.T, msg string) map[string]any {
	t.Helper()
	for _, e := range r.Entries(t) {
		if e[slog.MessageKey] == msg {
			return e
		}
	}
	return nil
}

// NewTestLogger returns a debug-level JSON logger writing into a Recorder.
func NewTestLogger(t *testing.T) (*slog.Logger, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	return slog.New(slog.NewJSONHandler(rec, &slog.HandlerOptions{Level: slog.LevelDebug})), rec
}
