package pipeline

// PlanDimensions scales (width, height) so the longest side is at most
// maxSide while keeping the aspect ratio. Images already within the limit
// are returned unchanged; nothing is ever upscaled. Results are real-valued
// and truncated by the caller.
func PlanDimensions(width, height int, maxSide float64) (float64, float64) {
	w, h := float64(width), float64(height)
	if max(w, h) <= maxSide {
		return w, h
	}

	switch {
	case w > h:
		return maxSide, h / (w / maxSide)
	case h > w:
		return w / (h / maxSide), maxSide
	default:
		return maxSide, maxSide
	}
}
