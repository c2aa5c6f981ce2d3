// Package janitor implements the expiry sweep: it walks every epoch past
// its retention deadline and deletes the messages and key slots stored
// under it. Epoch metadata itself is retained so expired epochs keep
// reporting as expired rather than missing.
package janitor

import (
	"log/slog"

	"github.com/ruteri/vetkd-access-backend/interfaces"
)

// Report counts what one sweep removed.
type Report struct {
	DirectMessages uint64 `json:"direct_messages"`
	GroupMessages  uint64 `json:"group_messages"`
	Caches         uint64 `json:"caches"`
	Reshares       uint64 `json:"reshares"`
}

// Total returns the number of removed entries across all categories.
func (r Report) Total() uint64 {
	return r.DirectMessages + r.GroupMessages + r.Caches + r.Reshares
}

// Janitor wires the epoch lister to the sweepable stores.
type Janitor struct {
	epochs   interfaces.EpochLister
	messages interfaces.MessageSweeper
	slots    interfaces.SlotSweeper
	log      *slog.Logger
}

// New creates a janitor over the given stores.
func New(epochs interfaces.EpochLister, messages interfaces.MessageSweeper, slots interfaces.SlotSweeper, log *slog.Logger) *Janitor {
	return &Janitor{
		epochs:   epochs,
		messages: messages,
		slots:    slots,
		log:      log,
	}
}

// Sweep removes the contents of all expired epochs and reports the counts.
// Sweeping is idempotent: a second run over the same epochs removes nothing.
func (j *Janitor) Sweep() Report {
	var report Report
	for _, expired := range j.epochs.ExpiredEpochs(j.epochs.Now()) {
		removed := j.messages.DeleteEpochMessages(expired.Resource, expired.Epoch)
		switch expired.Resource.Kind {
		case interfaces.GroupChat:
			report.GroupMessages += removed
		default:
			report.DirectMessages += removed
		}

		caches, reshares := j.slots.DeleteEpochSlots(expired.Resource, expired.Epoch)
		report.Caches += caches
		report.Reshares += reshares
	}

	j.log.Info("Timer job: cleaned up expired entries",
		slog.Uint64("direct_messages", report.DirectMessages),
		slog.Uint64("group_messages", report.GroupMessages),
		slog.Uint64("vetkey_epoch_caches", report.Caches),
		slog.Uint64("reshared_vetkeys", report.Reshares))
	return report
}
