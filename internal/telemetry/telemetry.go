package telemetry

import (
	"context"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
)

// Gate reports whether sampled values have anywhere to go
type Gate interface {
	IsConnected() bool
}

// VolumeSampler reads the system volume on a fast cadence and emits only on change.
// VolumeUnavailable is a value like any other.
type VolumeSampler struct {
	reader   domain.VolumeReader
	gate     Gate
	emit     func(ctx context.Context, volume int)
	interval time.Duration

	last    int
	hasLast bool
}

// NewVolumeSampler creates a volume sampler
func NewVolumeSampler(reader domain.VolumeReader, gate Gate, emit func(context.Context, int), interval time.Duration) *VolumeSampler {
	return &VolumeSampler{
		reader:   reader,
		gate:     gate,
		emit:     emit,
		interval: interval,
	}
}

// Run samples until ctx is cancelled
func (s *VolumeSampler) Run(ctx context.Context) error {
	return every(ctx, s.interval, s.Sample)
}

// Sample performs one gated read and emits if the value changed since the last emission
func (s *VolumeSampler) Sample(ctx context.Context) {
	if !s.gate.IsConnected() {
		return
	}
	v := s.reader.Volume(ctx)
	if s.hasLast && v == s.last {
		return
	}
	s.last = v
	s.hasLast = true
	s.emit(ctx, v)
}

// TimelineSampler emits the playback position on a slow cadence as an unconditional correction
type TimelineSampler struct {
	read     func(ctx context.Context) (domain.Timeline, bool)
	gate     Gate
	emit     func(ctx context.Context, t domain.Timeline)
	interval time.Duration
}

// NewTimelineSampler creates a timeline sampler. read returns false when there is nothing to sample.
func NewTimelineSampler(read func(context.Context) (domain.Timeline, bool), gate Gate, emit func(context.Context, domain.Timeline), interval time.Duration) *TimelineSampler {
	return &TimelineSampler{
		read:     read,
		gate:     gate,
		emit:     emit,
		interval: interval,
	}
}

// Run samples until ctx is cancelled
func (s *TimelineSampler) Run(ctx context.Context) error {
	return every(ctx, s.interval, s.Sample)
}

// Sample performs one gated read and always emits what it read
func (s *TimelineSampler) Sample(ctx context.Context) {
	if !s.gate.IsConnected() {
		return
	}
	t, ok := s.read(ctx)
	if !ok {
		return
	}
	s.emit(ctx, t)
}

func every(ctx context.Context, interval time.Duration, fn func(context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn(ctx)
		}
	}
}
