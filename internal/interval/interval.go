package interval

import "fmt"

// DefaultGap is the merge threshold used by the silence trimmer, in milliseconds
const DefaultGap int64 = 250

// Interval is a half-open time range [Start, End) in milliseconds
type Interval struct {
	Start int64 `json:"start_ms"`
	End   int64 `json:"end_ms"`
}

// Duration returns End - Start
func (i Interval) Duration() int64 {
	return i.End - i.Start
}

// Valid reports whether the interval is non-empty and starts at or after zero
func (i Interval) Valid() bool {
	return i.Start >= 0 && i.Start < i.End
}

func (i Interval) String() string {
	return fmt.Sprintf("[%d,%d)", i.Start, i.End)
}

// Merge collapses intervals whose leading edge lies within gap milliseconds
// of the previous interval's trailing edge. The input must be sorted by
// Start; it is not modified. A gap exactly equal to the threshold merges.
func Merge(ranges []Interval, gap int64) []Interval {
	merged := make([]Interval, 0, len(ranges))
	if len(ranges) == 0 {
		return merged
	}

	merged = append(merged, ranges[0])
	for _, cur := range ranges[1:] {
		last := &merged[len(merged)-1]
		if cur.Start-last.End <= gap {
			last.End = max(last.End, cur.End)
			continue
		}
		merged = append(merged, cur)
	}

	return merged
}

// TotalDuration returns the summed length of the intervals
func TotalDuration(ranges []Interval) int64 {
	var total int64
	for _, r := range ranges {
		total += r.Duration()
	}
	return total
}
