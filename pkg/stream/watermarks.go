package stream

import "fmt"

const (
	// DefaultHighWaterMark is the buffered element count that pauses upstream reads.
	DefaultHighWaterMark = 16
	// DefaultLowWaterMark is the buffered element count that resumes upstream reads.
	DefaultLowWaterMark = 4
)

// WaterMarks configures pause/resume hysteresis for buffered elements.
type WaterMarks struct {
	// High pauses upstream reads once the buffer holds at least High elements.
	High int
	// Low resumes upstream reads once the buffer holds at most Low elements.
	Low int
}

// DefaultWaterMarks returns the default buffering thresholds.
func DefaultWaterMarks() WaterMarks {
	return WaterMarks{High: DefaultHighWaterMark, Low: DefaultLowWaterMark}
}

// Validate checks that the pair is ordered with distinct stop/resume thresholds.
func (w WaterMarks) Validate() error {
	if w.Low < 0 {
		return fmt.Errorf("validate water marks low=%d: %w", w.Low, ErrInvalidWaterMarks)
	}
	if w.High <= w.Low {
		return fmt.Errorf("validate water marks high=%d low=%d: %w", w.High, w.Low, ErrInvalidWaterMarks)
	}

	return nil
}

// ShouldPause reports whether buffered elements reached the high-water mark.
func (w WaterMarks) ShouldPause(buffered int) bool {
	return buffered >= w.High
}

// ShouldResume reports whether buffered elements drained to the low-water mark.
func (w WaterMarks) ShouldResume(buffered int) bool {
	return buffered <= w.Low
}
