package model_test

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/danielnaab/site-scanning-engine/internal/model"
)

func TestField_ThreeStatesAreDistinct(t *testing.T) {
	t.Parallel()
	var ne model.Field[bool]
	ab := model.Absent[bool]()
	f := model.Of(false)

	if ne.Evaluated() || !ne.IsZero() {
		t.Errorf("zero field should be not evaluated")
	}
	if !ab.Evaluated() || !ab.IsAbsent() || ab.IsPresent() {
		t.Errorf("absent field state wrong: %v", ab.State())
	}
	if v, ok := f.Get(); !ok || v {
		t.Errorf("expected present false, got %v/%v", v, ok)
	}
	if ne.State() == ab.State() || ab.State() == f.State() || ne.State() == f.State() {
		t.Errorf("states collide: %v %v %v", ne.State(), ab.State(), f.State())
	}
}

func TestField_JSONRepresentation(t *testing.T) {
	t.Parallel()
	type doc struct {
		A model.Field[string] `json:"a,omitzero"`
		B model.Field[string] `json:"b,omitzero"`
		C model.Field[int]    `json:"c,omitzero"`
	}
	in := doc{
		B: model.Absent[string](),
		C: model.Of(0),
	}
	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(raw) != `{"b":null,"c":0}` {
		t.Fatalf("unexpected encoding %s", raw)
	}

	var out doc
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out.A.State() != model.StateNotEvaluated {
		t.Errorf("missing key should decode as not evaluated, got %v", out.A.State())
	}
	if out.B.State() != model.StateAbsent {
		t.Errorf("null should decode as absent, got %v", out.B.State())
	}
	if v, ok := out.C.Get(); !ok || v != 0 {
		t.Errorf("0 should decode as present 0, got %v/%v", v, ok)
	}
}

func TestField_OfPtr(t *testing.T) {
	t.Parallel()
	if f := model.OfPtr[string](nil); !f.IsAbsent() {
		t.Errorf("nil pointer should be absent")
	}
	s := "x"
	if f := model.OfPtr(&s); f.OrElse("") != "x" {
		t.Errorf("expected x, got %v", f)
	}
}

func TestSolutionsResult_EvaluatedKeys(t *testing.T) {
	t.Parallel()
	var s model.SolutionsResult
	s.WebsiteID = 7
	s.ScanID = "abc"
	if keys := s.EvaluatedKeys(); len(keys) != 0 {
		t.Fatalf("empty result should have no evaluated keys, got %v", keys)
	}

	s.RobotsTxtDetected = model.Of(true)
	s.OgTitleFinalURL = model.Absent[string]()
	s.USWDSCount = model.Of(0)

	want := []string{"ogTitleFinalUrl", "robotsTxtDetected", "uswdsCount"}
	if got := s.EvaluatedKeys(); !reflect.DeepEqual(got, want) {
		t.Errorf("EvaluatedKeys = %v, want %v", got, want)
	}
}

func TestScanState_Terminal(t *testing.T) {
	t.Parallel()
	for _, s := range []model.ScanState{model.StatePending, model.StateLivenessChecked, model.StateAnalyzing, model.StateMerged} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	for _, s := range []model.ScanState{model.StateCompleted, model.StateFailed} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
}
