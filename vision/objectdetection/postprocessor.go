package objectdetection

import "sort"

// Postprocessor defines a function that filters/modifies an incoming array of Detections.
type Postprocessor func([]Detection) []Detection

// NewScoreFilter returns a function that filters out detections whose
// confidence is at or below the given threshold. Only detections strictly
// above the threshold survive.
func NewScoreFilter(conf float64) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.Score() > conf {
				out = append(out, d)
			}
		}
		return out
	}
}

// NewAreaFilter returns a function that filters out detections below a certain bounding box area.
func NewAreaFilter(area int) Postprocessor {
	return func(in []Detection) []Detection {
		out := make([]Detection, 0, len(in))
		for _, d := range in {
			if d.BoundingBox().Dx()*d.BoundingBox().Dy() >= area {
				out = append(out, d)
			}
		}
		return out
	}
}

// SortByDescendingScore sorts detections by confidence, highest first.
// The sort is stable so equally scored detections keep their backend order.
func SortByDescendingScore(in []Detection) []Detection {
	out := make([]Detection, len(in))
	copy(out, in)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score() > out[j].Score()
	})
	return out
}

// NewTopKFilter returns a function that truncates the detections to the first k.
// Call it after SortByDescendingScore to keep the k most confident detections.
func NewTopKFilter(k int) Postprocessor {
	return func(in []Detection) []Detection {
		if len(in) <= k {
			return in
		}
		return in[:k]
	}
}
