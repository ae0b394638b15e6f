package series

// Statistics summarizes a display series. All fields are nil when the series
// is empty.
type Statistics struct {
	Min     *float64 `json:"min"`
	Avg     *float64 `json:"avg"`
	Max     *float64 `json:"max"`
	Current *float64 `json:"current"`
}

// Summarize computes min, average, max and the most recent value
func Summarize(s Series) Statistics {
	if len(s.Points) == 0 {
		return Statistics{}
	}

	minV, maxV := s.Points[0].Value, s.Points[0].Value
	var sum float64
	for _, p := range s.Points {
		sum += p.Value
		minV = min(minV, p.Value)
		maxV = max(maxV, p.Value)
	}
	avg := sum / float64(len(s.Points))
	current := s.Points[len(s.Points)-1].Value

	return Statistics{Min: &minV, Avg: &avg, Max: &maxV, Current: &current}
}
