package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter(t *testing.T) {
	t.Run("text mode", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, false)

		e.Emit(Event{
			JobID:  "job-1",
			Stage:  "transform",
			UnitID: "unit-001",
			Msg:    "unit_failed",
			Meta:   map[string]interface{}{"error": "timeout"},
		})

		out := buf.String()
		for _, want := range []string{"[unit_failed]", "jobID=job-1", "stage=transform", "unitID=unit-001", "timeout"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q: %q", want, out)
			}
		}
	})

	t.Run("text mode omits empty unit", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, false)
		e.Emit(Event{JobID: "job-1", Msg: "run_started"})
		if strings.Contains(buf.String(), "unitID") {
			t.Errorf("empty unit printed: %q", buf.String())
		}
	})

	t.Run("json mode emits one object per line", func(t *testing.T) {
		var buf bytes.Buffer
		e := NewLogEmitter(&buf, true)

		e.Emit(Event{JobID: "job-1", Stage: "split", Msg: "stage_complete", Meta: map[string]interface{}{"duration_ms": 12}})
		e.Emit(Event{JobID: "job-1", Stage: "transform", Msg: "stage_complete"})

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		if len(lines) != 2 {
			t.Fatalf("got %d lines", len(lines))
		}
		var decoded struct {
			JobID string                 `json:"jobID"`
			Stage string                 `json:"stage"`
			Msg   string                 `json:"msg"`
			Meta  map[string]interface{} `json:"meta"`
		}
		if err := json.Unmarshal([]byte(lines[0]), &decoded); err != nil {
			t.Fatalf("line not valid JSON: %v", err)
		}
		if decoded.JobID != "job-1" || decoded.Stage != "split" || decoded.Meta["duration_ms"] != float64(12) {
			t.Errorf("decoded = %+v", decoded)
		}
	})
}

func TestBufferedEmitter(t *testing.T) {
	seed := func() *BufferedEmitter {
		b := NewBufferedEmitter()
		b.Emit(Event{JobID: "job-1", Stage: "split", Msg: "stage_complete"})
		b.Emit(Event{JobID: "job-1", Stage: "transform", UnitID: "unit-001", Msg: "unit_failed"})
		b.Emit(Event{JobID: "job-1", Stage: "transform", Msg: "stage_complete"})
		b.Emit(Event{JobID: "job-2", Stage: "split", Msg: "stage_complete"})
		return b
	}

	t.Run("history preserves emission order per job", func(t *testing.T) {
		b := seed()
		events := b.History("job-1")
		if len(events) != 3 {
			t.Fatalf("got %d events", len(events))
		}
		if events[0].Stage != "split" || events[2].Stage != "transform" {
			t.Errorf("order = %v", events)
		}
		if len(b.History("job-2")) != 1 {
			t.Error("jobs not isolated")
		}
	})

	t.Run("filters combine with AND", func(t *testing.T) {
		b := seed()
		got := b.HistoryWithFilter("job-1", HistoryFilter{Stage: "transform", Msg: "stage_complete"})
		if len(got) != 1 {
			t.Fatalf("got %d events", len(got))
		}
		if got[0].UnitID != "" {
			t.Errorf("wrong event matched: %+v", got[0])
		}

		if got := b.HistoryWithFilter("job-1", HistoryFilter{UnitID: "unit-001"}); len(got) != 1 {
			t.Errorf("unit filter matched %d", len(got))
		}
	})

	t.Run("history returns a copy", func(t *testing.T) {
		b := seed()
		events := b.History("job-1")
		events[0].Msg = "mutated"
		if b.History("job-1")[0].Msg == "mutated" {
			t.Error("caller mutated the buffer")
		}
	})

	t.Run("clear one job", func(t *testing.T) {
		b := seed()
		b.Clear("job-1")
		if len(b.History("job-1")) != 0 {
			t.Error("job-1 not cleared")
		}
		if len(b.History("job-2")) != 1 {
			t.Error("clear leaked into other jobs")
		}
	})

	t.Run("clear all", func(t *testing.T) {
		b := seed()
		b.Clear("")
		if len(b.History("job-1"))+len(b.History("job-2")) != 0 {
			t.Error("buffer not emptied")
		}
	})
}

func TestMultiEmitter(t *testing.T) {
	a := NewBufferedEmitter()
	b := NewBufferedEmitter()
	m := NewMultiEmitter(a, nil, b)

	m.Emit(Event{JobID: "job-1", Msg: "run_started"})

	if len(a.History("job-1")) != 1 || len(b.History("job-1")) != 1 {
		t.Error("event not fanned out to all backends")
	}
}

func TestNullEmitter(t *testing.T) {
	// Must simply not panic.
	NewNullEmitter().Emit(Event{JobID: "job-1", Msg: "run_started"})
}
