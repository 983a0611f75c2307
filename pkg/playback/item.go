package playback

import (
	"github.com/MrWong99/gapless/pkg/audio"
	"github.com/MrWong99/gapless/pkg/mediatime"
)

// QueueItem is one track's live playback window. It is owned by the
// scheduler loop and never shared.
type QueueItem struct {
	track audio.Track

	// startOffset is where decoding began, item-relative.
	startOffset mediatime.Time

	// endOffset is how far decoding has been handed to the renderer,
	// item-relative. It never decreases and never falls below startOffset.
	endOffset mediatime.Time

	// enqueued is set once the item's last buffer has been handed off.
	enqueued bool

	// boundary fires when playback crosses the item's end. Zero until the
	// item is enqueued.
	boundary audio.ObserverID

	provider *BufferProvider
}

func newQueueItem(track audio.Track, provider *BufferProvider) *QueueItem {
	return &QueueItem{
		track:       track,
		startOffset: provider.Origin(),
		endOffset:   provider.Origin(),
		provider:    provider,
	}
}

// info returns an immutable copy for notifications and snapshots.
func (it *QueueItem) info() *ItemInfo {
	return &ItemInfo{
		Track:       it.track,
		StartOffset: it.startOffset,
		EndOffset:   it.endOffset,
		Enqueued:    it.enqueued,
	}
}

// ItemInfo is a point-in-time copy of a queue item's state.
type ItemInfo struct {
	Track       audio.Track
	StartOffset mediatime.Time
	EndOffset   mediatime.Time
	Enqueued    bool
}

func tracksOf(items []*QueueItem) []audio.Track {
	out := make([]audio.Track, len(items))
	for i, it := range items {
		out[i] = it.track
	}
	return out
}
