//go:build !linux

package monitor

import (
	"context"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
)

// MprisSource stub for non-Linux platforms
type MprisSource struct {
	logger *zap.Logger
}

// NewMprisSource creates a stub source that reports no sessions on non-Linux platforms
func NewMprisSource(logger *zap.Logger) *MprisSource {
	return &MprisSource{logger: logger}
}

// Start returns an error indicating MPRIS is not supported on this platform
func (m *MprisSource) Start(ctx context.Context) error {
	return domain.ErrUnsupported
}

// Stop is a no-op on non-Linux platforms
func (m *MprisSource) Stop(ctx context.Context) error {
	return nil
}

func (m *MprisSource) CurrentSession(ctx context.Context) (domain.SessionInfo, bool, error) {
	return domain.SessionInfo{}, false, domain.ErrUnsupported
}

func (m *MprisSource) Properties(ctx context.Context, sessionID string) (domain.MediaProperties, error) {
	return domain.MediaProperties{}, domain.ErrUnsupported
}

func (m *MprisSource) Timeline(ctx context.Context, sessionID string) (domain.Timeline, error) {
	return domain.Timeline{}, domain.ErrUnsupported
}

func (m *MprisSource) Watch(sessionID string, fn func(domain.Notice)) func() {
	return func() {}
}
