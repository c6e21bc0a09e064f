package domain

// FeatureVector is the fixed-schema numeric encoding of a NormalizedSignal
// plus its historical context. Names and Values are parallel slices in the
// order registered for the source. Every value is finite; metrics that could
// not be computed are imputed with 0.
type FeatureVector struct {
	Source Source
	Names  []string
	Values []float64
}

// Get returns the named feature and whether it exists in the vector.
func (v *FeatureVector) Get(name string) (float64, bool) {
	for i, n := range v.Names {
		if n == name {
			return v.Values[i], true
		}
	}
	return 0, false
}

// GetOr returns the named feature, or fallback when absent.
func (v *FeatureVector) GetOr(name string, fallback float64) float64 {
	if val, ok := v.Get(name); ok {
		return val
	}
	return fallback
}

// Map returns the vector as a name → value map, for persistence.
func (v *FeatureVector) Map() map[string]float64 {
	m := make(map[string]float64, len(v.Names))
	for i, n := range v.Names {
		m[n] = v.Values[i]
	}
	return m
}
