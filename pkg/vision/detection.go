package vision

// Zone is the horizontal third of the frame a detection's center falls in.
type Zone string

const (
	ZoneLeft   Zone = "Left"
	ZoneCenter Zone = "Center"
	ZoneRight  Zone = "Right"
)

// Detection is one bounding box reported by the detector.
type Detection struct {
	Box        [4]int  `json:"box"` // x1, y1, x2, y2
	Label      string  `json:"label"`
	Confidence float64 `json:"conf"`
	Zone       Zone    `json:"side"`
}

// ZoneFor classifies the box center against thirds of width.
func ZoneFor(box [4]int, width int) Zone {
	cx := float64((box[0] + box[2]) / 2)
	w := float64(width)
	switch {
	case cx < w/3:
		return ZoneLeft
	case cx < w*2/3:
		return ZoneCenter
	default:
		return ZoneRight
	}
}

// Filter keeps detections with the given label and at least minConf
// confidence, assigning each its zone. The result is never nil.
func Filter(dets []Detection, label string, minConf float64, width int) []Detection {
	out := make([]Detection, 0, len(dets))
	for _, d := range dets {
		if d.Label != label || d.Confidence < minConf {
			continue
		}
		d.Zone = ZoneFor(d.Box, width)
		out = append(out, d)
	}
	return out
}
