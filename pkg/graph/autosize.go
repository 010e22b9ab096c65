package graph

const (
	longEdgeTarget = 832
	dimensionStep  = 32 // model requirement: tensor dims must divide evenly
)

// FitDimensions computes video dimensions for an input image: the aspect
// ratio is preserved with the long edge at 832, and both edges are aligned
// down to a multiple of 32 within the supported bounds.
func FitDimensions(origWidth, origHeight int) (int, int) {
	if origWidth <= 0 || origHeight <= 0 {
		return 480, longEdgeTarget
	}

	var w, h int
	if origWidth >= origHeight {
		w = longEdgeTarget
		h = (origHeight*longEdgeTarget + origWidth/2) / origWidth
	} else {
		h = longEdgeTarget
		w = (origWidth*longEdgeTarget + origHeight/2) / origHeight
	}

	w = alignDimension(w)
	h = alignDimension(h)
	return w, h
}

func alignDimension(d int) int {
	d = (d / dimensionStep) * dimensionStep
	if d < minDimension {
		d = minDimension
	}
	if d > maxDimension {
		d = maxDimension
	}
	return d
}
