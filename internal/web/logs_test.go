package web

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLogBuffer_JoinsPartialWrites(t *testing.T) {
	b := NewLogBuffer(10)
	_, _ = b.Write([]byte("level=INFO msg=\"client "))
	_, _ = b.Write([]byte("connected\"\nlevel=INFO msg=second\n\n"))

	lines, dropped := b.Tail(0)
	if dropped != 0 {
		t.Fatalf("dropped=%d", dropped)
	}
	want := []string{`level=INFO msg="client connected"`, "level=INFO msg=second"}
	if len(lines) != len(want) {
		t.Fatalf("lines=%q want %q", lines, want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("lines[%d]=%q want %q", i, lines[i], want[i])
		}
	}
}

func TestLogBuffer_EvictsOldest(t *testing.T) {
	b := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}

	lines, dropped := b.Tail(2)
	if dropped != 2 {
		t.Fatalf("dropped=%d want 2", dropped)
	}
	if len(lines) != 2 || lines[0] != "line 3" || lines[1] != "line 4" {
		t.Fatalf("lines=%q", lines)
	}
}

func TestLogsHandler(t *testing.T) {
	b := NewLogBuffer(10)
	fmt.Fprintln(b, "first")
	fmt.Fprintln(b, "second")

	ts := httptest.NewServer(Handler(Routes{Logs: b}))
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/logs?tail=1")
	if err != nil {
		t.Fatalf("get logs: %v", err)
	}
	var lr LogsResponse
	err = json.NewDecoder(resp.Body).Decode(&lr)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(lr.Lines) != 1 || lr.Lines[0] != "second" {
		t.Fatalf("lines=%q", lr.Lines)
	}

	resp, err = http.Get(ts.URL + "/api/logs?format=text")
	if err != nil {
		t.Fatalf("get logs text: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "first\nsecond\n" {
		t.Fatalf("body=%q", body)
	}

	resp, err = http.Get(ts.URL + "/api/logs?tail=0")
	if err != nil {
		t.Fatalf("get logs bad tail: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status code=%d want 400", resp.StatusCode)
	}
}
