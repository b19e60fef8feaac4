package roon

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LGGGreg/roon-discord-publish/internal/domain"
)

func subscriptionMessage(name, body string) *message {
	return &message{
		Verb:        verbContinue,
		Name:        name,
		RequestID:   1,
		ContentType: "application/json",
		Body:        []byte(body),
	}
}

func drainEvent(t *testing.T, tr *Transport) domain.ZoneEvent {
	t.Helper()
	select {
	case ev := <-tr.Events():
		return ev
	default:
		t.Fatal("expected a zone event")
		return domain.ZoneEvent{}
	}
}

func subscribe(t *testing.T, tr *Transport) {
	t.Helper()
	tr.handleZoneMessage(subscriptionMessage("Subscribed", `{"zones":[
		{"zone_id":"z1","display_name":"Kitchen","state":"paused"},
		{"zone_id":"z2","display_name":"Living Room","state":"playing","now_playing":{
			"two_line":{"line1":"My Song","line2":"My Artist"},
			"length":240,"seek_position":30,"image_key":"img1",
			"artist_image_keys":["a1","a2"]}}
	]}`))
	ev := drainEvent(t, tr)
	require.Equal(t, domain.ZonesSubscribed, ev.Kind)
}

func TestHandleZoneMessage_SubscribedBuildsTable(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	assert.Equal(t, []string{"z1", "z2"}, tr.ZoneIDs())

	z1, ok := tr.Zone("z1")
	require.True(t, ok)
	assert.Equal(t, "Kitchen", z1.DisplayName)
	assert.Equal(t, domain.StatePaused, z1.State)
	assert.Nil(t, z1.NowPlaying)

	z2, ok := tr.Zone("z2")
	require.True(t, ok)
	assert.Equal(t, domain.StatePlaying, z2.State)
	require.NotNil(t, z2.NowPlaying)
	assert.Equal(t, "My Song", z2.NowPlaying.Line1)
	assert.Equal(t, "My Artist", z2.NowPlaying.Line2)
	assert.Equal(t, 240, z2.NowPlaying.Length)
	assert.Equal(t, 30, z2.NowPlaying.SeekPosition)
	assert.Equal(t, "img1", z2.NowPlaying.ImageKey)
	assert.Equal(t, []string{"a1", "a2"}, z2.NowPlaying.ArtistImageKeys)
}

func TestHandleZoneMessage_ResubscribeReplacesTable(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	tr.handleZoneMessage(subscriptionMessage("Subscribed",
		`{"zones":[{"zone_id":"z3","display_name":"Office","state":"playing"}]}`))
	drainEvent(t, tr)

	assert.Equal(t, []string{"z3"}, tr.ZoneIDs())
	_, ok := tr.Zone("z1")
	assert.False(t, ok)
}

func TestHandleZoneMessage_ChangedUpsertsAndEmitsSnapshots(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	tr.handleZoneMessage(subscriptionMessage("Changed", `{"zones_changed":[
		{"zone_id":"z1","display_name":"Kitchen","state":"playing","now_playing":{
			"two_line":{"line1":"Other Song","line2":"Other Artist"},"length":180}}
	]}`))

	ev := drainEvent(t, tr)
	assert.Equal(t, domain.ZonesChanged, ev.Kind)
	require.Len(t, ev.Changed, 1)
	assert.Equal(t, "z1", ev.Changed[0].ID)
	assert.Equal(t, domain.StatePlaying, ev.Changed[0].State)

	z1, _ := tr.Zone("z1")
	require.NotNil(t, z1.NowPlaying)
	assert.Equal(t, "Other Song", z1.NowPlaying.Line1)

	// Upsert keeps the announcement order stable
	assert.Equal(t, []string{"z1", "z2"}, tr.ZoneIDs())
}

func TestHandleZoneMessage_RemovedDropsZone(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	tr.handleZoneMessage(subscriptionMessage("Changed", `{"zones_removed":["z1"]}`))

	ev := drainEvent(t, tr)
	assert.Equal(t, domain.ZonesRemoved, ev.Kind)
	assert.Equal(t, []string{"z1"}, ev.Removed)

	_, ok := tr.Zone("z1")
	assert.False(t, ok)
	assert.Equal(t, []string{"z2"}, tr.ZoneIDs())
}

func TestHandleZoneMessage_AddedAppendsInOrder(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	tr.handleZoneMessage(subscriptionMessage("Changed", `{"zones_added":[
		{"zone_id":"z3","display_name":"Office","state":"stopped"}
	]}`))

	ev := drainEvent(t, tr)
	assert.Equal(t, domain.ZonesUpdated, ev.Kind)
	assert.Equal(t, []string{"z1", "z2", "z3"}, tr.ZoneIDs())
}

func TestHandleZoneMessage_SeekUpdatesWithoutAliasing(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	before, _ := tr.Zone("z2")

	tr.handleZoneMessage(subscriptionMessage("Changed",
		`{"zones_seek_changed":[{"zone_id":"z2","seek_position":95}]}`))

	ev := drainEvent(t, tr)
	assert.Equal(t, domain.ZonesUpdated, ev.Kind)

	after, _ := tr.Zone("z2")
	assert.Equal(t, 95, after.NowPlaying.SeekPosition)
	// Snapshots handed out earlier keep their seek position
	assert.Equal(t, 30, before.NowPlaying.SeekPosition)
}

func TestHandleZoneMessage_SeekForZoneWithoutTrackIsIgnored(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	tr.handleZoneMessage(subscriptionMessage("Changed",
		`{"zones_seek_changed":[{"zone_id":"z1","seek_position":10}]}`))
	drainEvent(t, tr)

	z1, _ := tr.Zone("z1")
	assert.Nil(t, z1.NowPlaying)
}

func TestHandleZoneMessage_MalformedBodyIsDiscarded(t *testing.T) {
	tr := New(zap.NewNop(), nil)
	subscribe(t, tr)

	tr.handleZoneMessage(subscriptionMessage("Changed", `{"zones_changed":`))

	select {
	case ev := <-tr.Events():
		t.Fatalf("unexpected event %v", ev.Kind)
	default:
	}
	assert.Equal(t, []string{"z1", "z2"}, tr.ZoneIDs())
}
