package sdk

import (
	"sort"
	"time"

	"github.com/SIRI-bit-tech/bidforge-sub000/domain/model"
)

// ReconcileOptions tunes the dedup windows. Zero values use the defaults
// observed in production.
type ReconcileOptions struct {
	// OptimisticWindow bounds the timestamp gap under which a confirmed
	// message may replace an optimistic one with the same text and sender.
	OptimisticWindow time.Duration
	// DedupBucket is the width of the content+time fallback bucket used when
	// merging histories that have never seen each other.
	DedupBucket time.Duration
}

const (
	defaultOptimisticWindow = 5 * time.Second
	defaultDedupBucket      = time.Second
)

func (o ReconcileOptions) normalized() ReconcileOptions {
	if o.OptimisticWindow <= 0 {
		o.OptimisticWindow = defaultOptimisticWindow
	}
	if o.DedupBucket <= 0 {
		o.DedupBucket = defaultDedupBucket
	} else if o.DedupBucket < time.Millisecond {
		// Bucket arithmetic works in whole milliseconds.
		o.DedupBucket = time.Millisecond
	}
	return o
}

// Reconcile merges one incoming message into the sequence and returns the
// new sequence, sorted ascending by origin timestamp. No single source
// supplies a reliable join key across the store, the channel replay and
// optimistic entries, so matching layers three checks in decreasing order of
// confidence: durable identity, optimistic replacement, and a loose
// content+time bucket. Malformed input can only ever be dropped, never
// corrupt the sequence.
func Reconcile(existing []model.Message, incoming model.Message, opts ReconcileOptions) []model.Message {
	opts = opts.normalized()

	out := make([]model.Message, len(existing))
	copy(out, existing)

	// 1. Identity: a known durable id is already in the sequence.
	if incoming.ID != "" {
		for _, m := range out {
			if m.ID == incoming.ID {
				return out
			}
		}
	}

	// 2. Optimistic replacement: the durable counterpart of a local entry
	// replaces it in place, preserving list position.
	if incoming.ID != "" {
		for i, m := range out {
			if m.ID != "" || m.Text != incoming.Text || m.SenderID != incoming.SenderID {
				continue
			}
			if m.LocalID != "" && incoming.LocalID != "" && m.LocalID != incoming.LocalID {
				continue
			}
			if absDuration(m.SentAt.Sub(incoming.SentAt)) >= opts.OptimisticWindow {
				continue
			}

			confirmed := incoming
			confirmed.Provenance = model.ProvenanceConfirmed
			if confirmed.LocalID == "" {
				confirmed.LocalID = m.LocalID
			}
			out[i] = confirmed
			return finalize(out, opts)
		}
	}

	// 3. Content+time bucket fallback for sources that never saw each other.
	for _, m := range out {
		if sameBucket(m, incoming, opts.DedupBucket) {
			return out
		}
	}

	// 4. Genuinely new.
	if incoming.Provenance == "" {
		if incoming.Confirmed() {
			incoming.Provenance = model.ProvenanceConfirmed
		} else {
			incoming.Provenance = model.ProvenanceOptimistic
		}
	}
	out = append(out, incoming)
	return finalize(out, opts)
}

// MergeHistories is the bulk variant used at attach time to unify the
// durable-store batch with the channel replay batch.
func MergeHistories(a, b []model.Message, opts ReconcileOptions) []model.Message {
	out := make([]model.Message, 0, len(a)+len(b))
	for _, m := range a {
		out = Reconcile(out, m, opts)
	}
	for _, m := range b {
		out = Reconcile(out, m, opts)
	}
	return out
}

// sameBucket applies the loose fallback: identical text landing in the same
// time bucket. Two messages that are both independently confirmed with
// distinct ids are never merged, whatever their bucket: true sub-second
// duplicates ("ok" twice) are distinct messages.
func sameBucket(existing, incoming model.Message, width time.Duration) bool {
	if existing.ID != "" && incoming.ID != "" && existing.ID != incoming.ID {
		return false
	}
	// Local ids are unique per session: distinct local ids are distinct
	// messages even when text and bucket collide.
	if existing.LocalID != "" && incoming.LocalID != "" && existing.LocalID != incoming.LocalID {
		return false
	}
	if existing.Text != incoming.Text {
		return false
	}
	w := width.Milliseconds()
	return existing.SentAt.UnixMilli()/w == incoming.SentAt.UnixMilli()/w
}

// finalize restores the ordering invariant and runs the dedup backstop.
// The sort is stable, so exact-timestamp ties keep insertion order.
func finalize(seq []model.Message, opts ReconcileOptions) []model.Message {
	sort.SliceStable(seq, func(i, j int) bool {
		return seq[i].SentAt.Before(seq[j].SentAt)
	})
	return backstop(seq, opts)
}

// backstop removes duplicates that slipped through the layered checks:
// repeated durable ids, and optimistic entries shadowed by a confirmed
// entry with the same text and sender close in time.
func backstop(seq []model.Message, opts ReconcileOptions) []model.Message {
	out := make([]model.Message, 0, len(seq))

	seenID := make(map[string]struct{}, len(seq))
	for _, m := range seq {
		if m.ID != "" {
			if _, dup := seenID[m.ID]; dup {
				continue
			}
			seenID[m.ID] = struct{}{}
		}
		out = append(out, m)
	}

	filtered := out[:0]
	for _, m := range out {
		if !m.Confirmed() && shadowedByConfirmed(out, m, opts.OptimisticWindow) {
			continue
		}
		filtered = append(filtered, m)
	}
	return filtered
}

func shadowedByConfirmed(seq []model.Message, optimistic model.Message, window time.Duration) bool {
	for _, m := range seq {
		if !m.Confirmed() {
			continue
		}
		if m.LocalID != "" && optimistic.LocalID != "" && m.LocalID != optimistic.LocalID {
			continue
		}
		if m.Text == optimistic.Text && m.SenderID == optimistic.SenderID &&
			absDuration(m.SentAt.Sub(optimistic.SentAt)) < window {
			return true
		}
	}
	return false
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
