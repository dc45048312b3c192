package ingestion

import (
	"sync"

	"github.com/google/uuid"
)

// Stage names a step of the ingestion state machine.
type Stage string

const (
	StagePending   Stage = "pending"
	StageParsing   Stage = "parsing"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageStoring   Stage = "storing"
	StageCompleted Stage = "completed"
	StageFailed    Stage = "failed"
)

// ProgressEvent reports ingestion progress for one document. Progress is
// 0-100 and non-decreasing within a stage. Error is set only on the terminal
// failed event.
type ProgressEvent struct {
	DocumentID uuid.UUID
	Stage      Stage
	Progress   int
	Message    string
	Error      string
}

func (e ProgressEvent) terminal() bool {
	return e.Stage == StageCompleted || e.Stage == StageFailed
}

const subscriberBuffer = 16

// progressHub fans ingestion events out to per-document subscribers.
// Publishing never blocks: a subscriber that falls behind misses events.
type progressHub struct {
	mu   sync.Mutex
	subs map[uuid.UUID][]chan ProgressEvent
}

func newProgressHub() *progressHub {
	return &progressHub{subs: make(map[uuid.UUID][]chan ProgressEvent)}
}

func (h *progressHub) subscribe(documentID uuid.UUID) (<-chan ProgressEvent, func()) {
	ch := make(chan ProgressEvent, subscriberBuffer)

	h.mu.Lock()
	h.subs[documentID] = append(h.subs[documentID], ch)
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		channels := h.subs[documentID]
		for i, existing := range channels {
			if existing == ch {
				h.subs[documentID] = append(channels[:i], channels[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

func (h *progressHub) publish(event ProgressEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs[event.DocumentID] {
		select {
		case ch <- event:
		default:
		}
	}

	if event.terminal() {
		for _, ch := range h.subs[event.DocumentID] {
			close(ch)
		}
		delete(h.subs, event.DocumentID)
	}
}
