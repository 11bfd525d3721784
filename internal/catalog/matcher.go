package catalog

import (
	"math"

	"github.com/ayusman/mukha/internal/detector"
)

const (
	// DefaultThreshold is the distance below which a match is accepted.
	DefaultThreshold = 0.6
	// Unknown labels a descriptor no identity is close enough to.
	Unknown = "unknown"
)

// Matcher finds the closest reference identity for a descriptor. It is
// immutable and safe for concurrent use.
type Matcher struct {
	identities []Identity
	threshold  float64
}

// NewMatcher creates a matcher over identities. A threshold <= 0 selects
// DefaultThreshold.
func NewMatcher(identities []Identity, threshold float64) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Matcher{identities: identities, threshold: threshold}
}

// Len returns the number of identities. A nil Matcher has none.
func (m *Matcher) Len() int {
	if m == nil {
		return 0
	}
	return len(m.identities)
}

// Labels returns the identity labels in catalog order.
func (m *Matcher) Labels() []string {
	if m == nil {
		return nil
	}
	labels := make([]string, len(m.identities))
	for i, id := range m.identities {
		labels[i] = id.Label
	}
	return labels
}

// FindBestMatch returns the identity whose mean descriptor distance to d is
// smallest. When that distance is not below the threshold the label is
// Unknown; the distance is still reported.
func (m *Matcher) FindBestMatch(d detector.Descriptor) detector.Match {
	best := detector.Match{Label: Unknown, Distance: math.Inf(1)}
	if m == nil {
		return best
	}

	for _, id := range m.identities {
		if dist := meanDistance(d, id.Descriptors); dist < best.Distance {
			best = detector.Match{Label: id.Label, Distance: dist}
		}
	}
	if best.Distance >= m.threshold {
		best.Label = Unknown
	}
	return best
}

func meanDistance(d detector.Descriptor, refs []detector.Descriptor) float64 {
	if len(refs) == 0 {
		return math.Inf(1)
	}
	var sum float64
	for _, r := range refs {
		sum += Distance(d, r)
	}
	return sum / float64(len(refs))
}

// Distance is the euclidean distance between two descriptors. Descriptors
// of different length are infinitely far apart.
func Distance(a, b detector.Descriptor) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	var sum float64
	for i := range a {
		diff := float64(a[i]) - float64(b[i])
		sum += diff * diff
	}
	return math.Sqrt(sum)
}
