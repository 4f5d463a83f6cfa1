// Package recorder persists the engine's event log and feeds display
// updates to the TUI. It is the only component that writes to the
// database; everything it stores is reconstructable from the events.
package recorder

import (
	"context"
	"encoding/json"
	"time"

	"governance-voting/internal/logger"
	"governance-voting/internal/models"
	"governance-voting/internal/tui"
	"governance-voting/internal/voting"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	// EventQueueSize bounds the publish buffer. The engine never blocks on
	// a full queue; overflow events are counted and dropped from the DB
	// (the engine state itself is unaffected).
	EventQueueSize = 1024

	// flushBatchSize is how many pending event rows trigger a DB flush.
	flushBatchSize = 64

	flushInterval = 2 * time.Second
)

// Recorder drains engine events into the database and the TUI channel.
type Recorder struct {
	db      *gorm.DB     // nil disables persistence
	engine  *voting.Engine
	tuiCh   chan<- interface{} // nil disables display updates
	log     *logger.Logger
	events  chan voting.Event
	metrics *recorderMetrics

	pending []*models.BallotEvent
}

// New creates a recorder. Any of db, tuiCh and promRegistry may be nil.
// AttachEngine must be called before Run.
func New(db *gorm.DB, tuiCh chan<- interface{}, log *logger.Logger, promRegistry prometheus.Registerer) *Recorder {
	r := &Recorder{
		db:     db,
		tuiCh:  tuiCh,
		log:    log,
		events: make(chan voting.Event, EventQueueSize),
	}
	if promRegistry != nil {
		r.initMetrics(promRegistry)
	}
	return r
}

// AttachEngine wires the engine whose query surface backs round snapshots.
// Separate from New because the engine takes the recorder as its sink.
func (r *Recorder) AttachEngine(engine *voting.Engine) {
	r.engine = engine
}

// Publish implements voting.Sink. It is called inside the engine's
// critical section and must not block, so a full queue drops the event.
func (r *Recorder) Publish(ev voting.Event) {
	select {
	case r.events <- ev:
	default:
		r.log.Printf("recorder: event queue full, dropping %s event", ev.Type)
		if r.metrics != nil {
			r.metrics.eventsDropped.Inc()
		}
	}
}

// Run drains the event queue until the context is cancelled, flushing
// pending rows periodically and on shutdown.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.drainRemaining()
			r.flush()
			return nil
		case <-ticker.C:
			r.flush()
		case ev := <-r.events:
			r.handle(ev)
		}
	}
}

func (r *Recorder) drainRemaining() {
	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
		default:
			return
		}
	}
}

func (r *Recorder) handle(ev voting.Event) {
	if r.metrics != nil {
		r.metrics.events.WithLabelValues(string(ev.Type)).Inc()
	}

	if r.db != nil {
		r.pending = append(r.pending, eventRow(ev))
		if len(r.pending) >= flushBatchSize {
			r.flush()
		}
	}

	switch data := ev.Data.(type) {
	case voting.RoundFinalizedData:
		// Flush the log first so the summary rows never precede their events.
		r.flush()
		r.writeFinalized(data)
	case voting.CancellationTriggeredData:
		r.flush()
		r.markCancelled(data)
	}

	r.forwardToTUI(ev)
}

// eventRow maps an engine event to its log row. Voter and proposal columns
// are filled where the event targets one.
func eventRow(ev voting.Event) *models.BallotEvent {
	row := &models.BallotEvent{
		Type:      string(ev.Type),
		Timestamp: ev.Timestamp,
	}
	if payload, err := json.Marshal(ev.Data); err == nil {
		row.Payload = string(payload)
	}
	switch data := ev.Data.(type) {
	case voting.RoundCreatedData:
		row.RoundID = data.RoundID
	case voting.CommitmentReceivedData:
		row.RoundID = data.RoundID
		row.Voter = string(data.Voter)
	case voting.VoteRevealedData:
		row.RoundID = data.RoundID
		row.Voter = string(data.Voter)
	case voting.RoundFinalizedData:
		row.RoundID = data.RoundID
	case voting.CancellationTriggeredData:
		row.RoundID = data.RoundID
		row.ProposalID = uint64(data.ProposalID)
	}
	return row
}

func (r *Recorder) flush() {
	if r.db == nil || len(r.pending) == 0 {
		return
	}
	rows := r.pending
	r.pending = nil
	if err := r.db.CreateInBatches(rows, flushBatchSize).Error; err != nil {
		r.log.Printf("recorder: error flushing %d event rows: %v", len(rows), err)
		return
	}
	if r.metrics != nil {
		r.metrics.rowsWritten.Add(float64(len(rows)))
	}
	r.log.Printf("recorder: flushed %d event rows", len(rows))
}

// writeFinalized stores the round summary and per-proposal result rows.
func (r *Recorder) writeFinalized(data voting.RoundFinalizedData) {
	if r.db == nil {
		return
	}
	info := r.engine.RoundInfo(data.RoundID)
	rec := models.RoundRecord{
		RoundID:               data.RoundID,
		StartCommit:           info.StartCommit,
		EndCommit:             info.EndCommit,
		EndReveal:             info.EndReveal,
		CountingMethod:        info.Method.String(),
		SnapshotEligibleCount: info.SnapshotEligibleCount,
		CancellationThreshold: info.CancellationThreshold,
		AutoCancellation:      info.AutoCancellation,
		TotalCommitted:        info.TotalCommitted,
		TotalRevealed:         info.TotalRevealed,
		TurnoutPercent:        data.TurnoutPercent,
	}
	if err := r.db.Where(models.RoundRecord{RoundID: rec.RoundID}).Assign(rec).FirstOrCreate(&rec).Error; err != nil {
		r.log.Printf("recorder: error writing round record %d: %v", data.RoundID, err)
	}

	var results []*models.ProposalResult
	for pid, tally := range data.Results {
		results = append(results, &models.ProposalResult{
			RoundID:               data.RoundID,
			ProposalID:            uint64(pid),
			ForWeight:             tally.ForWeight,
			AgainstWeight:         tally.AgainstWeight,
			AbstainCount:          tally.AbstainCount,
			NotParticipatingCount: tally.NotParticipatingCount,
			BordaPoints:           tally.BordaPoints,
		})
	}
	if len(results) > 0 {
		if err := r.db.CreateInBatches(results, flushBatchSize).Error; err != nil {
			r.log.Printf("recorder: error writing %d proposal results for round %d: %v", len(results), data.RoundID, err)
		}
	}
	if r.metrics != nil {
		r.metrics.roundsFinalized.Inc()
	}
}

func (r *Recorder) markCancelled(data voting.CancellationTriggeredData) {
	if r.metrics != nil {
		r.metrics.cancellations.Inc()
	}
	if r.db == nil {
		return
	}
	err := r.db.Model(&models.ProposalResult{}).
		Where("round_id = ? AND proposal_id = ?", data.RoundID, uint64(data.ProposalID)).
		Update("cancellation_triggered", true).Error
	if err != nil {
		r.log.Printf("recorder: error marking cancellation for round %d proposal %d: %v", data.RoundID, data.ProposalID, err)
	}
}

// forwardToTUI pushes a fresh snapshot of the affected round.
func (r *Recorder) forwardToTUI(ev voting.Event) {
	if r.tuiCh == nil {
		return
	}
	var roundID uint64
	switch data := ev.Data.(type) {
	case voting.RoundCreatedData:
		roundID = data.RoundID
	case voting.CommitmentReceivedData:
		roundID = data.RoundID
	case voting.VoteRevealedData:
		roundID = data.RoundID
	case voting.RoundFinalizedData:
		roundID = data.RoundID
	case voting.CancellationTriggeredData:
		roundID = data.RoundID
	default:
		return
	}

	info := r.engine.RoundInfo(roundID)
	update := tui.RoundUpdate{
		RoundID:        info.ID,
		Phase:          info.Phase.String(),
		Method:         info.Method.String(),
		Finalized:      info.Finalized,
		TotalCommitted: info.TotalCommitted,
		TotalRevealed:  info.TotalRevealed,
		EligibleCount:  info.SnapshotEligibleCount,
		TurnoutPercent: r.engine.TurnoutPercent(roundID),
		EndCommit:      info.EndCommit,
		EndReveal:      info.EndReveal,
	}
	for _, pid := range info.ProposalIDs {
		tally := r.engine.ProposalTally(roundID, pid)
		update.Proposals = append(update.Proposals, tui.ProposalRow{
			ProposalID:       uint64(pid),
			ForWeight:        tally.ForWeight,
			AgainstWeight:    tally.AgainstWeight,
			AbstainCount:     tally.AbstainCount,
			NotParticipating: tally.NotParticipatingCount,
			BordaPoints:      tally.BordaPoints,
		})
	}

	select {
	case r.tuiCh <- update:
	default:
		// Display updates are best-effort; never stall the recorder.
	}
}
