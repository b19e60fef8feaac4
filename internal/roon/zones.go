package roon

import (
	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

// wireZone is a zone as the core serializes it
type wireZone struct {
	ZoneID      string `json:"zone_id"`
	DisplayName string `json:"display_name"`
	State       string `json:"state"`
	NowPlaying  *struct {
		TwoLine struct {
			Line1 string `json:"line1"`
			Line2 string `json:"line2"`
		} `json:"two_line"`
		Length          int      `json:"length"`
		SeekPosition    int      `json:"seek_position"`
		ImageKey        string   `json:"image_key"`
		ArtistImageKeys []string `json:"artist_image_keys"`
	} `json:"now_playing"`
}

func (w wireZone) snapshot() domain.ZoneSnapshot {
	snap := domain.ZoneSnapshot{
		ID:          w.ZoneID,
		DisplayName: w.DisplayName,
		State:       domain.ZoneState(w.State),
	}
	if w.NowPlaying != nil {
		snap.NowPlaying = &domain.NowPlaying{
			Line1:           w.NowPlaying.TwoLine.Line1,
			Line2:           w.NowPlaying.TwoLine.Line2,
			Length:          w.NowPlaying.Length,
			SeekPosition:    w.NowPlaying.SeekPosition,
			ImageKey:        w.NowPlaying.ImageKey,
			ArtistImageKeys: w.NowPlaying.ArtistImageKeys,
		}
	}
	return snap
}

// zoneChanges is the body of a subscription continuation
type zoneChanges struct {
	Zones            []wireZone `json:"zones"`
	ZonesAdded       []wireZone `json:"zones_added"`
	ZonesChanged     []wireZone `json:"zones_changed"`
	ZonesRemoved     []string   `json:"zones_removed"`
	ZonesSeekChanged []struct {
		ZoneID       string `json:"zone_id"`
		SeekPosition int    `json:"seek_position"`
	} `json:"zones_seek_changed"`
}

// handleZoneMessage applies one subscription message to the zone table and
// emits the matching change notification
func (t *Transport) handleZoneMessage(msg *message) {
	var changes zoneChanges
	if err := msg.decodeJSON(&changes); err != nil {
		t.logger.Warn("Discarding malformed zone message", zap.Error(err))
		return
	}

	switch {
	case msg.Name == "Subscribed":
		t.mu.Lock()
		t.zones = make(map[string]domain.ZoneSnapshot, len(changes.Zones))
		t.order = t.order[:0]
		for _, w := range changes.Zones {
			t.upsertLocked(w.snapshot())
		}
		t.mu.Unlock()
		t.logger.Info("Zone subscription established",
			zap.Int("zones", len(changes.Zones)))
		t.emit(domain.ZoneEvent{Kind: domain.ZonesSubscribed})

	case len(changes.ZonesRemoved) > 0:
		t.mu.Lock()
		for _, id := range changes.ZonesRemoved {
			t.removeLocked(id)
		}
		t.mu.Unlock()
		t.emit(domain.ZoneEvent{Kind: domain.ZonesRemoved, Removed: changes.ZonesRemoved})

	case len(changes.ZonesChanged) > 0:
		snaps := make([]domain.ZoneSnapshot, 0, len(changes.ZonesChanged))
		t.mu.Lock()
		for _, w := range changes.ZonesChanged {
			snap := w.snapshot()
			t.upsertLocked(snap)
			snaps = append(snaps, snap)
		}
		t.mu.Unlock()
		t.emit(domain.ZoneEvent{Kind: domain.ZonesChanged, Changed: snaps})

	case len(changes.ZonesAdded) > 0:
		t.mu.Lock()
		for _, w := range changes.ZonesAdded {
			t.upsertLocked(w.snapshot())
		}
		t.mu.Unlock()
		t.emit(domain.ZoneEvent{Kind: domain.ZonesUpdated})

	case len(changes.ZonesSeekChanged) > 0:
		t.mu.Lock()
		for _, seek := range changes.ZonesSeekChanged {
			if z, ok := t.zones[seek.ZoneID]; ok && z.NowPlaying != nil {
				np := *z.NowPlaying
				np.SeekPosition = seek.SeekPosition
				z.NowPlaying = &np
				t.zones[seek.ZoneID] = z
			}
		}
		t.mu.Unlock()
		t.emit(domain.ZoneEvent{Kind: domain.ZonesUpdated})

	default:
		t.emit(domain.ZoneEvent{Kind: domain.ZonesUpdated})
	}
}

func (t *Transport) upsertLocked(snap domain.ZoneSnapshot) {
	if _, known := t.zones[snap.ID]; !known {
		t.order = append(t.order, snap.ID)
	}
	t.zones[snap.ID] = snap
}

func (t *Transport) removeLocked(id string) {
	if _, known := t.zones[id]; !known {
		return
	}
	delete(t.zones, id)
	for i, existing := range t.order {
		if existing == id {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}
