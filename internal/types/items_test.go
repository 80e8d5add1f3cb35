package types

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestResultItem_Validate(t *testing.T) {
	tests := []struct {
		name    string
		item    *ResultItem
		wantErr error
	}{
		{"success", Success(1, json.RawMessage(`4`)), nil},
		{"null success", Success(1, nil), nil},
		{"failure", Failure(1, &ErrorEnvelope{Type: "x", Message: "boom"}), nil},
		{"exit marker", Exit(1234), nil},
		{"both set", &ResultItem{WorkID: 1, Result: json.RawMessage(`1`), Exception: &ErrorEnvelope{}}, ErrAmbiguousResult},
		{"neither set", &ResultItem{WorkID: 1}, ErrNoOutcome},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

// A call returning nil must still be distinguishable from a missing result
// once it has crossed the wire.
func TestResultItem_NullResultSurvivesWire(t *testing.T) {
	data, err := json.Marshal(Success(7, nil))
	if err != nil {
		t.Fatal(err)
	}

	var got ResultItem
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}

	if err := got.Validate(); err != nil {
		t.Fatalf("decoded item invalid: %v (wire: %s)", err, data)
	}
	if string(got.Result) != "null" {
		t.Errorf("expected null result, got %s", got.Result)
	}
}

func TestCallItem_StopFrame(t *testing.T) {
	data, err := json.Marshal(StopCall())
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != `{"stop":true}` {
		t.Errorf("unexpected sentinel encoding %s", data)
	}

	w := NewWorkItem(5, "square", json.RawMessage(`3`))
	c := NewCallItem(w)
	if c.Stop || c.WorkID != 5 || c.Fn != "square" || string(c.Args) != "3" {
		t.Errorf("unexpected call item %+v", c)
	}
	if w.Future.WorkID() != 5 {
		t.Errorf("work item future has id %d", w.Future.WorkID())
	}
}

func TestResultItem_IsExit(t *testing.T) {
	var nilItem *ResultItem
	if nilItem.IsExit() {
		t.Error("nil item is not an exit marker")
	}
	if !Exit(10).IsExit() {
		t.Error("expected exit marker")
	}
	if Success(1, nil).IsExit() {
		t.Error("result is not an exit marker")
	}
}
