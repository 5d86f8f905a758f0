package interval

import (
	"reflect"
	"testing"
)

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		input  []Interval
		gap    int64
		expect []Interval
	}{
		{
			name:   "empty input",
			input:  nil,
			gap:    250,
			expect: []Interval{},
		},
		{
			name:   "single interval",
			input:  []Interval{{10, 20}},
			gap:    250,
			expect: []Interval{{10, 20}},
		},
		{
			name:   "gap equal to threshold merges",
			input:  []Interval{{0, 100}, {150, 200}},
			gap:    50,
			expect: []Interval{{0, 200}},
		},
		{
			name:   "gap one larger than threshold stays separate",
			input:  []Interval{{0, 100}, {150, 200}},
			gap:    49,
			expect: []Interval{{0, 100}, {150, 200}},
		},
		{
			name:   "contained interval keeps outer end",
			input:  []Interval{{0, 1000}, {100, 200}},
			gap:    0,
			expect: []Interval{{0, 1000}},
		},
		{
			name:   "chain of close ranges",
			input:  []Interval{{0, 100}, {300, 400}, {600, 700}, {2000, 2100}},
			gap:    250,
			expect: []Interval{{0, 700}, {2000, 2100}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.input, tt.gap)
			if !reflect.DeepEqual(got, tt.expect) {
				t.Errorf("Expected %v, got %v", tt.expect, got)
			}
		})
	}
}

func TestMergeProperties(t *testing.T) {
	inputs := [][]Interval{
		{{0, 10}, {5, 30}, {31, 40}, {400, 500}, {510, 520}, {1000, 1001}},
		{{0, 100}, {350, 400}, {401, 402}, {900, 950}},
		{{100, 200}, {100, 150}, {120, 400}},
	}

	for _, gap := range []int64{0, 1, 50, 250} {
		for _, input := range inputs {
			once := Merge(input, gap)

			for i := 1; i < len(once); i++ {
				if once[i].Start < once[i-1].Start {
					t.Errorf("gap %d: output not sorted: %v", gap, once)
				}
				if once[i].Start-once[i-1].End <= gap {
					t.Errorf("gap %d: neighbours %v and %v should have merged", gap, once[i-1], once[i])
				}
			}

			twice := Merge(once, gap)
			if !reflect.DeepEqual(once, twice) {
				t.Errorf("gap %d: merge is not idempotent: %v vs %v", gap, once, twice)
			}
		}
	}
}

func TestMergeDoesNotMutateInput(t *testing.T) {
	input := []Interval{{0, 100}, {120, 300}}
	Merge(input, 50)

	if input[0].End != 100 {
		t.Errorf("Expected input to be unchanged, got %v", input)
	}
}

func TestIntervalHelpers(t *testing.T) {
	i := Interval{Start: 100, End: 350}

	if i.Duration() != 250 {
		t.Errorf("Expected duration 250, got %d", i.Duration())
	}

	if !i.Valid() {
		t.Error("Expected interval to be valid")
	}

	if (Interval{Start: 5, End: 5}).Valid() {
		t.Error("Expected empty interval to be invalid")
	}

	if TotalDuration([]Interval{{0, 10}, {20, 25}}) != 15 {
		t.Error("Expected total duration 15")
	}
}
