package collab_test

import (
	"encoding/json"
	"slices"
	"testing"

	"bemflow/internal/collab"
)

func TestParametersMergeLaterWins(t *testing.T) {
	base := collab.Parameters{"infiltration": 0.5, "setpoint": 21}
	merged := base.Merge(collab.Parameters{"setpoint": 22, "wwr": 0.3})

	if merged["setpoint"] != 22 || merged["infiltration"] != 0.5 || merged["wwr"] != 0.3 {
		t.Fatalf("unexpected merge result: %v", merged)
	}
	if base["setpoint"] != 21 {
		t.Fatal("expected base parameters to be left untouched")
	}
}

func TestParseIntensity(t *testing.T) {
	tests := []struct {
		in      string
		want    collab.Intensity
		wantErr bool
	}{
		{"low", collab.IntensityLow, false},
		{" Medium ", collab.IntensityMedium, false},
		{"HIGH", collab.IntensityHigh, false},
		{"extreme", 0, true},
	}
	for _, tt := range tests {
		got, err := collab.ParseIntensity(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseIntensity(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Fatalf("ParseIntensity(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if !(collab.IntensityLow < collab.IntensityMedium && collab.IntensityMedium < collab.IntensityHigh) {
		t.Fatal("expected intensities to be ordered low < medium < high")
	}
}

func TestIntensityJSONUsesNames(t *testing.T) {
	data, err := json.Marshal(collab.Variant{ID: "v1", BuildingID: "b1", Intensity: collab.IntensityHigh})
	if err != nil {
		t.Fatalf("marshal variant: %v", err)
	}
	var decoded struct {
		Intensity string `json:"intensity"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Intensity != "high" {
		t.Fatalf("expected intensity encoded by name, got %q", decoded.Intensity)
	}
}

func TestBuildingSetSubsetPreservesOrder(t *testing.T) {
	set := collab.BuildingSet{Buildings: []collab.Building{{ID: "a"}, {ID: "b"}, {ID: "c"}}}
	got := set.Subset([]string{"c", "a", "missing"}).IDs()
	if !slices.Equal(got, []string{"a", "c"}) {
		t.Fatalf("unexpected subset: %v", got)
	}
}

func TestValidationReportHelpers(t *testing.T) {
	report := collab.ValidationReport{Buildings: []collab.BuildingValidation{
		{BuildingID: "a", Passed: true, Metric: 5},
		{BuildingID: "b", Passed: false, Metric: 30},
		{BuildingID: "c", Passed: false, Metric: 22},
	}}
	if got := report.Failed(); !slices.Equal(got, []string{"b", "c"}) {
		t.Fatalf("unexpected failed list: %v", got)
	}
	if report.MetricByBuilding()["c"] != 22 {
		t.Fatal("expected metric index to include c")
	}
}

func TestSimulationBatchPartial(t *testing.T) {
	batch := collab.SimulationBatch{
		Results:  []collab.SimulationResult{{BuildingID: "a"}},
		Failures: []collab.SimulationFailure{{BuildingID: "b", Error: "engine crashed"}},
	}
	if !batch.Partial() || batch.Empty() {
		t.Fatalf("expected partial non-empty batch: %+v", batch)
	}
	if got := batch.FailedIDs(); !slices.Equal(got, []string{"b"}) {
		t.Fatalf("unexpected failed ids: %v", got)
	}
}

func TestVariantSetBuildingIDsDistinct(t *testing.T) {
	set := collab.VariantSet{Variants: []collab.Variant{
		{ID: "1", BuildingID: "a"}, {ID: "2", BuildingID: "a"}, {ID: "3", BuildingID: "b"},
	}}
	if got := set.BuildingIDs(); !slices.Equal(got, []string{"a", "b"}) {
		t.Fatalf("unexpected building ids: %v", got)
	}
}
