package tracker

import (
	"context"

	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// Publisher is the slice of the presence publisher the tracker drives
type Publisher interface {
	Publish(ctx context.Context, zone domain.ZoneSnapshot)
	Clear(ctx context.Context)
}

// Tracker follows at most one playing zone across the media source and
// forwards its state to the presence publisher. Selection is automatic
// unless a zone id is pinned in configuration, in which case automatic
// reselection is never consulted.
type Tracker struct {
	logger    *zap.Logger
	transport domain.Transport
	publisher Publisher
	pinnedID  string

	// activeID is the zone currently tracked, "" when none. nextID is a
	// just-changed zone remembered so it can pre-empt the previous active
	// zone once it starts playing. Both are touched only from Run's
	// event-processing goroutine.
	activeID string
	nextID   string
}

// New creates a zone tracker. pinnedID may be "" for automatic selection.
func New(logger *zap.Logger, transport domain.Transport, publisher Publisher, pinnedID string) *Tracker {
	return &Tracker{
		logger:    logger,
		transport: transport,
		publisher: publisher,
		pinnedID:  pinnedID,
	}
}

// Run consumes the transport's event stream until ctx is cancelled or the
// stream closes. One event is fully handled, including the presence
// publication it triggers, before the next is read.
func (t *Tracker) Run(ctx context.Context) {
	events := t.transport.Events()
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("Zone tracker stopped")
			return
		case ev, ok := <-events:
			if !ok {
				t.logger.Info("Zone event stream closed")
				return
			}
			t.HandleEvent(ctx, ev)
		}
	}
}

// HandleEvent applies one change notification to the selection state and
// publishes whatever presence transition it implies
func (t *Tracker) HandleEvent(ctx context.Context, ev domain.ZoneEvent) {
	if t.pinnedID != "" {
		t.activeID = t.pinnedID
	}

	// Prefer the remembered candidate once it actually starts playing
	if t.activeID == "" && t.nextID != "" {
		if z, ok := t.transport.Zone(t.nextID); ok && z.State == domain.StatePlaying {
			t.activeID = t.nextID
			t.nextID = ""
		}
	}

	// No zone yet: take the first playing one in enumeration order
	if t.activeID == "" {
		for _, id := range t.transport.ZoneIDs() {
			if z, ok := t.transport.Zone(id); ok && z.State == domain.StatePlaying {
				t.activeID = id
				t.logger.Info("Active zone changed",
					zap.String("zoneID", id),
					zap.String("zone", z.DisplayName))
				break
			}
		}
		if t.activeID == "" {
			t.logger.Warn("Failed to find an active zone")
			return
		}
	}

	switch ev.Kind {
	case domain.ZonesRemoved:
		t.activeID = ""
		t.nextID = ""
		t.publisher.Clear(ctx)
		return

	case domain.ZonesChanged:
		if t.pinnedID == "" {
			// Not locked to a zone: follow the change even if the
			// current zone is still going. Latest mover in the batch
			// wins.
			for _, z := range ev.Changed {
				if z.ID != "" && z.ID != t.activeID {
					t.nextID = z.ID
					t.activeID = z.ID
				}
			}
		}

	case domain.ZonesUpdated:
		if z, ok := t.transport.Zone(t.activeID); ok {
			t.publisher.Publish(ctx, z)
		}

	case domain.ZonesSubscribed:
		// Selection above already picked a zone from the initial list
	}

	// The tracker only follows a zone while it is playing. Anything else
	// drops tracking so the next playing zone can be picked up.
	if z, ok := t.transport.Zone(t.activeID); ok && z.State != domain.StatePlaying {
		t.logger.Info("Active zone stopped, resetting",
			zap.String("zoneID", t.activeID))
		t.activeID = ""
		t.publisher.Clear(ctx)
	}
}

// ActiveZoneID returns the currently tracked zone id, "" when none
func (t *Tracker) ActiveZoneID() string {
	return t.activeID
}
