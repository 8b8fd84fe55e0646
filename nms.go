package jda

import (
	"image"
	"math"
	"sort"

	"github.com/esimov/jda/shape"
)

// suppress groups overlapping detections. Detections are visited by decreasing
// score, ties broken by position and size, and every detection not yet grouped
// starts a group with all the remaining ones overlapping it by more than
// overlap. The group is then replaced according to the merge rule.
func suppress(dets []Detection, overlap float64, rule MergeRule) []Detection {
	sorted := append([]Detection(nil), dets...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Rect.Min.Y != b.Rect.Min.Y {
			return a.Rect.Min.Y < b.Rect.Min.Y
		}
		if a.Rect.Min.X != b.Rect.Min.X {
			return a.Rect.Min.X < b.Rect.Min.X
		}
		return a.Rect.Dx() < b.Rect.Dx()
	})

	grouped := make([]bool, len(sorted))
	var out []Detection
	for i := range sorted {
		if grouped[i] {
			continue
		}
		group := []Detection{sorted[i]}
		for j := i + 1; j < len(sorted); j++ {
			if !grouped[j] && iou(sorted[i].Rect, sorted[j].Rect) > overlap {
				grouped[j] = true
				group = append(group, sorted[j])
			}
		}
		if rule == MergeAverage {
			out = append(out, average(group))
		} else {
			out = append(out, group[0])
		}
	}
	return out
}

// average merges a group whose first detection has the highest score, weighting
// every member by exp(score - top).
func average(group []Detection) Detection {
	top := group[0]
	if len(group) == 1 {
		return top
	}
	var (
		sum            float64
		x0, y0, x1, y1 float64
		s              = shape.New(len(top.Shape))
	)
	for _, d := range group {
		w := math.Exp(d.Score - top.Score)
		sum += w
		x0 += w * float64(d.Rect.Min.X)
		y0 += w * float64(d.Rect.Min.Y)
		x1 += w * float64(d.Rect.Max.X)
		y1 += w * float64(d.Rect.Max.Y)
		s.AddScaled(d.Shape, w)
	}
	return Detection{
		Rect: image.Rect(
			int(math.Round(x0/sum)), int(math.Round(y0/sum)),
			int(math.Round(x1/sum)), int(math.Round(y1/sum)),
		),
		Score: top.Score,
		Shape: s.Scale(1 / sum),
	}
}

// iou returns the intersection over union of two rectangles.
func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := float64(inter.Dx() * inter.Dy())
	union := float64(a.Dx()*a.Dy()+b.Dx()*b.Dy()) - ia
	return ia / union
}
