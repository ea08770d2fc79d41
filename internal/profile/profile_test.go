package profile

import (
	"testing"

	"github.com/wuzengqing001225/SmartAgentSurvey/internal/models"
)

func TestParseDimensionsPreservesOrder(t *testing.T) {
	data := []byte(`{
		"age": {"format": "X years old"},
		"hobby": {"format": "enjoys X"},
		"city": {"format": "lives in X"}
	}`)
	dims, err := ParseDimensions(data)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dims) != 3 {
		t.Fatalf("expected 3 dimensions, got %d", len(dims))
	}
	want := []string{"age", "hobby", "city"}
	for i, name := range want {
		if dims[i].Name != name {
			t.Errorf("dimension %d: got %s, want %s", i, dims[i].Name, name)
		}
	}
}

func TestParseDimensionsNotObject(t *testing.T) {
	if _, err := ParseDimensions([]byte(`["age"]`)); err == nil {
		t.Error("expected error for non-object input")
	}
}

func TestDescribeFormatsValues(t *testing.T) {
	f := NewFormatter([]Dimension{
		{Name: "age", Format: "X years old"},
		{Name: "hobby", Format: "enjoys X"},
	})
	got := f.Describe(models.Respondent{ID: 1, Values: []string{"30", "hiking"}})
	if got != "30 years old enjoys hiking" {
		t.Errorf("unexpected description %q", got)
	}
}

func TestDescribePreformattedProfileWins(t *testing.T) {
	f := NewFormatter([]Dimension{{Name: "age", Format: "X years old"}})
	got := f.Describe(models.Respondent{ID: 1, Values: []string{"30"}, Profile: "a retired teacher"})
	if got != "a retired teacher" {
		t.Errorf("expected preformatted profile, got %q", got)
	}
}

func TestDescribeFewerValuesThanDimensions(t *testing.T) {
	f := NewFormatter([]Dimension{
		{Name: "age", Format: "X years old"},
		{Name: "hobby", Format: "enjoys X"},
	})
	got := f.Describe(models.Respondent{ID: 1, Values: []string{"30"}})
	if got != "30 years old" {
		t.Errorf("unexpected description %q", got)
	}
}
