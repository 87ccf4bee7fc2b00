package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/genricoloni/podlink/internal/domain"
	"go.uber.org/zap"
)

const noticeBufferSize = 16

// Change is a normalized track change. Ended changes carry no properties.
type Change struct {
	SessionID  string
	Properties domain.MediaProperties
	Ended      bool
}

// Handler receives track changes on the tracker goroutine, in detection order
type Handler func(ctx context.Context, c Change)

// Tracker follows the active media session and raises one Change per logical track change.
// All tracking state is owned by the Run goroutine.
type Tracker struct {
	logger   *zap.Logger
	source   domain.MediaSource
	handler  Handler
	interval time.Duration

	notices chan domain.Notice

	sessionID    string
	owner        string
	lastIdentity domain.TrackIdentity
	unwatch      func()

	dropMu          sync.Mutex
	lastDropWarning time.Time
}

// New creates a tracker polling source every interval
func New(logger *zap.Logger, source domain.MediaSource, handler Handler, interval time.Duration) *Tracker {
	return &Tracker{
		logger:   logger,
		source:   source,
		handler:  handler,
		interval: interval,
		notices:  make(chan domain.Notice, noticeBufferSize),
	}
}

// Run polls the media source and processes pushed notices until ctx is cancelled
func (t *Tracker) Run(ctx context.Context) error {
	defer t.detach()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			t.tick(ctx)
		case n := <-t.notices:
			t.handleNotice(ctx, n)
		}
	}
}

// poll reconciles the tracked session with what the OS reports
func (t *Tracker) poll(ctx context.Context) {
	session, ok, err := t.source.CurrentSession(ctx)
	if err != nil {
		if ctx.Err() == nil {
			t.logger.Warn("Failed to query media sessions", zap.Error(err))
		}
		return
	}

	if !ok {
		if t.sessionID != "" {
			t.end(ctx)
		}
		return
	}

	if session.ID != t.sessionID {
		t.attach(session)
		t.fetch(ctx)
		return
	}

	if restarted(t.owner, session.Owner) {
		// The player came back under the same name: the old session ended
		t.end(ctx)
		t.attach(session)
		t.fetch(ctx)
		return
	}
	if t.owner == "" {
		t.owner = session.Owner
	}

	// Same session: pushes normally drive emission, this keeps polling convergent without them
	t.fetch(ctx)
}

func (t *Tracker) handleNotice(ctx context.Context, n domain.Notice) {
	if t.sessionID == "" || n.SessionID != t.sessionID {
		return
	}
	switch n.Kind {
	case domain.NoticeRemoved:
		if restarted(t.owner, n.Owner) {
			t.logger.Debug("Ignoring removal of a replaced session owner",
				zap.String("session", n.SessionID),
				zap.String("owner", n.Owner))
			return
		}
		t.end(ctx)
	default:
		t.fetch(ctx)
	}
}

// tick runs one poll cycle after any notices already queued
func (t *Tracker) tick(ctx context.Context) {
	t.drain(ctx)
	t.poll(ctx)
}

// drain handles notices queued before the current instant, so a poll never overtakes them
func (t *Tracker) drain(ctx context.Context) {
	for {
		select {
		case n := <-t.notices:
			t.handleNotice(ctx, n)
		default:
			return
		}
	}
}

// attach switches tracking to the session and resets dedup so the first track emits
func (t *Tracker) attach(session domain.SessionInfo) {
	t.detach()
	t.logger.Info("Tracking media session",
		zap.String("session", session.ID),
		zap.String("owner", session.Owner))
	t.sessionID = session.ID
	t.owner = session.Owner
	t.lastIdentity = ""
	t.unwatch = t.source.Watch(session.ID, t.post)
}

func (t *Tracker) detach() {
	if t.unwatch != nil {
		t.unwatch()
		t.unwatch = nil
	}
}

// end drops the tracked session and emits exactly one ended change
func (t *Tracker) end(ctx context.Context) {
	t.logger.Info("Media session ended", zap.String("session", t.sessionID))
	t.detach()
	t.sessionID = ""
	t.owner = ""
	t.lastIdentity = ""
	t.handler(ctx, Change{Ended: true})
}

// restarted reports whether two known owners of the same session differ
func restarted(tracked, seen string) bool {
	return tracked != "" && seen != "" && tracked != seen
}

// fetch reads the tracked session's properties and emits on a new non-empty track
func (t *Tracker) fetch(ctx context.Context) {
	props, err := t.source.Properties(ctx, t.sessionID)
	if err != nil {
		if errors.Is(err, domain.ErrNoSession) {
			t.end(ctx)
			return
		}
		if ctx.Err() == nil {
			t.logger.Warn("Failed to read session properties",
				zap.String("session", t.sessionID),
				zap.Error(err))
		}
		return
	}

	if props.Title == "" {
		return
	}
	identity := props.Identity()
	if identity == t.lastIdentity {
		return
	}
	t.lastIdentity = identity

	t.logger.Info("Track changed",
		zap.String("session", t.sessionID),
		zap.String("title", props.Title),
		zap.String("artist", props.Artist))
	t.handler(ctx, Change{SessionID: t.sessionID, Properties: props})
}

// post runs on the media source's goroutine and only hands the notice over
func (t *Tracker) post(n domain.Notice) {
	select {
	case t.notices <- n:
	default:
		t.logDropWarning()
	}
}

// logDropWarning is rate limited to one warning per 5 seconds
func (t *Tracker) logDropWarning() {
	t.dropMu.Lock()
	defer t.dropMu.Unlock()

	const warningInterval = 5 * time.Second
	now := time.Now()
	if now.Sub(t.lastDropWarning) >= warningInterval {
		t.logger.Warn("Notice queue full, dropping session notification")
		t.lastDropWarning = now
	}
}
