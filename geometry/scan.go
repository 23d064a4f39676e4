package geometry

// Scan is one laser sweep: points in the sensor frame plus the odometry pose recorded with it.
type Scan struct {
	ID     int
	Points []Point
	Pose   Pose
}

// Clone returns a deep copy of the scan.
func (s Scan) Clone() Scan {
	out := s
	out.Points = append([]Point(nil), s.Points...)
	return out
}

// Transformed returns the scan points mapped by pose into the parent frame.
func (s Scan) Transformed(pose Pose) []Point {
	out := make([]Point, len(s.Points))
	for i, p := range s.Points {
		out[i] = pose.GlobalPoint(p)
	}
	return out
}
