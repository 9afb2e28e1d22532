package present

import (
	"time"
)

// Stats counts what the loop has done since it was created.
type Stats struct {
	Presented   int
	Dropped     int
	Recreations int

	frameTime time.Duration
}

// AverageFrameTime is the mean CPU time of a presented frame, from cleanup to present.
func (s Stats) AverageFrameTime() time.Duration {
	if s.Presented == 0 {
		return 0
	}
	return s.frameTime / time.Duration(s.Presented)
}

func (s *Stats) presented(elapsed time.Duration) {
	s.Presented++
	s.frameTime += elapsed
}
