package action

import (
	"encoding/json"
	"testing"
)

func TestResult_MarshalJSONShapes(t *testing.T) {
	tests := []struct {
		name   string
		result Result
		want   string
	}{
		{
			name:   "success",
			result: Ok(map[string]string{"result": "HELLO"}),
			want:   `{"success":true,"data":{"result":"HELLO"}}`,
		},
		{
			name:   "success with nil data",
			result: Ok(nil),
			want:   `{"success":true,"data":null}`,
		},
		{
			name:   "failure without details",
			result: Fail(ErrorPermission, "Permission denied", nil),
			want:   `{"success":false,"error":"Permission denied","errorType":"permission"}`,
		},
		{
			name: "failure with details",
			result: Fail(ErrorValidation, "Invalid input", map[string]any{
				"fieldErrors": map[string][]string{"title": {"is required"}},
			}),
			want: `{"success":false,"error":"Invalid input","errorType":"validation","details":{"fieldErrors":{"title":["is required"]}}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.result)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResult_UnmarshalJSON(t *testing.T) {
	var r Result
	if err := json.Unmarshal([]byte(`{"success":false,"error":"Action not found","errorType":"not_found"}`), &r); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if r.Success || r.ErrorType != ErrorNotFound || r.Error != "Action not found" {
		t.Errorf("Unmarshal() = %+v", r)
	}
}

func TestResult_FieldErrors(t *testing.T) {
	r := Invalid(map[string][]string{"email": {"must be a valid email address"}})
	res := Fail(r.Type, r.Message, r.Details)
	if got := res.FieldErrors()["email"]; len(got) != 1 {
		t.Errorf("FieldErrors()[email] = %v", got)
	}
	if Ok(nil).FieldErrors() != nil {
		t.Error("FieldErrors() on success should be nil")
	}
}
