package flow

import (
	"encoding/json"
	"testing"
)

func TestState_Accessors(t *testing.T) {
	t.Run("set and get", func(t *testing.T) {
		s := NewState()
		s.Set("title", "Pride and Prejudice")
		s.Set("count", 3)
		s.Set("ratio", 1.5)
		s.Set("ok", true)

		if got := s.GetString("title", ""); got != "Pride and Prejudice" {
			t.Errorf("GetString = %q", got)
		}
		if got := s.GetInt("count", 0); got != 3 {
			t.Errorf("GetInt = %d", got)
		}
		if got := s.GetFloat("ratio", 0); got != 1.5 {
			t.Errorf("GetFloat = %f", got)
		}
		if !s.GetBool("ok", false) {
			t.Error("GetBool = false, want true")
		}
	})

	t.Run("missing keys return defaults", func(t *testing.T) {
		s := NewState()
		if got := s.GetString("missing", "fallback"); got != "fallback" {
			t.Errorf("GetString default = %q", got)
		}
		if got := s.GetInt("missing", 42); got != 42 {
			t.Errorf("GetInt default = %d", got)
		}
		if s.GetBool("missing", false) {
			t.Error("missing bool must read as the default")
		}
	})

	t.Run("mistyped bool reads as default", func(t *testing.T) {
		s := NewState()
		s.Set("flag", "true")
		if s.GetBool("flag", false) {
			t.Error("string value must not satisfy GetBool")
		}
	})

	t.Run("int survives json round-trip as float64", func(t *testing.T) {
		s := NewState()
		s.Set("count", 7)

		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		restored := NewState()
		if err := json.Unmarshal(data, restored); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got := restored.GetInt("count", 0); got != 7 {
			t.Errorf("GetInt after round-trip = %d", got)
		}
	})
}

func TestState_Clone(t *testing.T) {
	s := NewState()
	s.Version = 5
	s.Set("key", "value")
	s.Set("nested", map[string]any{"inner": 1})

	clone, err := s.Clone()
	if err != nil {
		t.Fatalf("Clone: %v", err)
	}
	if clone.Version != 5 {
		t.Errorf("clone version = %d", clone.Version)
	}

	clone.Set("key", "changed")
	if got := s.GetString("key", ""); got != "value" {
		t.Errorf("mutating clone changed original: %q", got)
	}
}

func TestDecodeStateKey(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	t.Run("recovers typed value after round-trip", func(t *testing.T) {
		s := NewState()
		s.Set("payload", payload{Name: "ch1", Count: 2})

		data, err := json.Marshal(s)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		restored := NewState()
		if err := json.Unmarshal(data, restored); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}

		var got payload
		if err := DecodeStateKey(restored, "payload", &got); err != nil {
			t.Fatalf("DecodeStateKey: %v", err)
		}
		if got.Name != "ch1" || got.Count != 2 {
			t.Errorf("decoded %+v", got)
		}
	})

	t.Run("missing key errors", func(t *testing.T) {
		var got payload
		if err := DecodeStateKey(NewState(), "absent", &got); err == nil {
			t.Error("expected error for absent key")
		}
	})
}

func TestUnitsRoundTrip(t *testing.T) {
	s := NewState()
	units := []WorkUnit{
		NewWorkUnit("unit-001", 0, "first chapter"),
		NewWorkUnit("unit-002", 1, "second chapter"),
	}
	PutUnits(s, units)

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	restored := NewState()
	if err := json.Unmarshal(data, restored); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	got, err := UnitsFromState(restored)
	if err != nil {
		t.Fatalf("UnitsFromState: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d units", len(got))
	}
	if got[0].ID != "unit-001" || got[0].Gate != GatePendingEval {
		t.Errorf("unit 0 = %+v", got[0])
	}

	if _, err := UnitsFromState(NewState()); err == nil {
		t.Error("expected error when units key is absent")
	}
}

func TestAppendError(t *testing.T) {
	s := NewState()
	AppendError(s, "first failure")
	AppendError(s, "second failure")

	var errs []string
	if err := DecodeStateKey(s, KeyErrors, &errs); err != nil {
		t.Fatalf("decode errors: %v", err)
	}
	if len(errs) != 2 || errs[1] != "second failure" {
		t.Errorf("errs = %v", errs)
	}
}
