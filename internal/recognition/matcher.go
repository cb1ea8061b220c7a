package recognition

import (
	"math"
)

// UnknownLabel is returned when no labeled descriptor set is close enough.
const UnknownLabel = "unknown"

// LabeledDescriptors are the reference descriptors of one gallery entry.
type LabeledDescriptors struct {
	Label       string
	Descriptors [][]float32
}

type Match struct {
	Label    string
	Distance float64
}

// Unknown reports whether the match is below the matcher's threshold.
func (m Match) Unknown() bool {
	return m.Label == UnknownLabel
}

// Matcher finds the closest labeled descriptor set for a query descriptor.
// The distance to a label is the mean Euclidean distance to each of its
// descriptors. A Matcher is immutable.
type Matcher struct {
	labeled   []LabeledDescriptors
	threshold float64
}

// NewMatcher builds a matcher over labeled. Sets without descriptors are
// dropped since they can never match.
func NewMatcher(labeled []LabeledDescriptors, threshold float64) *Matcher {
	kept := make([]LabeledDescriptors, 0, len(labeled))
	for _, l := range labeled {
		if len(l.Descriptors) == 0 {
			continue
		}
		kept = append(kept, l)
	}
	return &Matcher{labeled: kept, threshold: threshold}
}

// Len is the number of labels that can match.
func (m *Matcher) Len() int {
	return len(m.labeled)
}

func (m *Matcher) Threshold() float64 {
	return m.threshold
}

// FindBestMatch returns the label with the lowest mean distance, or
// UnknownLabel with that distance when it is not below the threshold.
func (m *Matcher) FindBestMatch(query []float32) Match {
	best := Match{Label: UnknownLabel, Distance: math.Inf(1)}
	for _, l := range m.labeled {
		d := meanDistance(query, l.Descriptors)
		if d < best.Distance {
			best = Match{Label: l.Label, Distance: d}
		}
	}
	if best.Distance >= m.threshold {
		best.Label = UnknownLabel
	}
	return best
}

func meanDistance(query []float32, descriptors [][]float32) float64 {
	var sum float64
	for _, d := range descriptors {
		sum += EuclideanDistance(query, d)
	}
	return sum / float64(len(descriptors))
}

// EuclideanDistance of a and b. Vectors of different length are infinitely
// far apart.
func EuclideanDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
