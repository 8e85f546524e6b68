package realtime

import (
	"log/slog"
	"sort"
)

// MessageWithMeta adds sequencing metadata for deterministic ordering.
type MessageWithMeta[M any] struct {
	Message     M
	SequenceNum uint64
	Priority    int
}

// processTick processes one complete tick.
func (rt *Runtime[M, S, C]) processTick() {
	// Phase 1: Collect messages atomically
	msgs := rt.collectMessages()
	if len(msgs) == 0 {
		return
	}

	// Phase 2: Sort for deterministic order
	sortMessages(msgs)

	// Phase 3: Deliver in order; each send waits for the component
	for i, m := range msgs {
		select {
		case rt.out <- m.Message:
		case <-rt.tickCtx.Done():
			rt.log.Debug("tick interrupted", slog.Int("undelivered", len(msgs)-i))
			return
		}
	}
}

// collectMessages atomically retrieves and clears the batch.
func (rt *Runtime[M, S, C]) collectMessages() []MessageWithMeta[M] {
	rt.batchMu.Lock()
	defer rt.batchMu.Unlock()

	msgs := rt.batch
	rt.batch = make([]MessageWithMeta[M], 0, cap(rt.batch))

	return msgs
}

// sortMessages orders messages by priority, then sequence number.
func sortMessages[M any](msgs []MessageWithMeta[M]) {
	// Stable sort preserves insertion order for equal priorities
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].Priority != msgs[j].Priority {
			return msgs[i].Priority > msgs[j].Priority
		}
		return msgs[i].SequenceNum < msgs[j].SequenceNum
	})
}
