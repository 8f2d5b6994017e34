package detector

import "sort"

// IoU is overlap area over union area of two axis aligned boxes.
func IoU(a, b BoundingBox) float32 {
	ix1, iy1 := max(a.X1, b.X1), max(a.Y1, b.Y1)
	ix2, iy2 := min(a.X2, b.X2), min(a.Y2, b.Y2)
	if ix2 <= ix1 || iy2 <= iy1 {
		return 0
	}
	inter := (ix2 - ix1) * (iy2 - iy1)
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// NonMaxSuppression runs greedy per-class suppression over boxes, using their
// position in the slice to break confidence ties. Running it again on its own
// output returns the same boxes in the same order.
func NonMaxSuppression(boxes []BoundingBox, iouThreshold float32) []BoundingBox {
	candidates := make([]candidate, len(boxes))
	for i, b := range boxes {
		candidates[i] = candidate{box: b, row: i}
	}
	return suppress(candidates, iouThreshold)
}

// suppress groups candidates by class, keeps a candidate only if its IoU with
// every box already kept in the same class is below the threshold, and
// concatenates the groups in ascending class order.
func suppress(candidates []candidate, iouThreshold float32) []BoundingBox {
	byClass := map[int][]candidate{}
	for _, c := range candidates {
		byClass[c.box.ClassIndex] = append(byClass[c.box.ClassIndex], c)
	}
	classes := make([]int, 0, len(byClass))
	for class := range byClass {
		classes = append(classes, class)
	}
	sort.Ints(classes)

	out := []BoundingBox{}
	for _, class := range classes {
		group := byClass[class]
		sort.SliceStable(group, func(i, j int) bool {
			if group[i].box.Confidence != group[j].box.Confidence {
				return group[i].box.Confidence > group[j].box.Confidence
			}
			return group[i].row < group[j].row
		})

		kept := make([]BoundingBox, 0, len(group))
		for _, c := range group {
			keep := true
			for _, k := range kept {
				if IoU(c.box, k) >= iouThreshold {
					keep = false
					break
				}
			}
			if keep {
				kept = append(kept, c.box)
			}
		}
		out = append(out, kept...)
	}
	return out
}
