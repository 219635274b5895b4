package session

import (
	"context"

	"github.com/tphakala/magtest/internal/errors"
	"github.com/tphakala/magtest/internal/events"
	"github.com/tphakala/magtest/internal/logger"
	"github.com/tphakala/magtest/internal/model"
	"github.com/tphakala/magtest/internal/signal"
)

// flush swaps out the processed buffer, runs defect detection over it and
// persists samples and new defects. The swap happens under the buffer lock
// before any I/O so appends during persistence land in the next batch.
func (m *Manager) flush(ctx context.Context) (int, error) {
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	if m.session == nil || len(m.processed) == 0 {
		m.mu.Unlock()
		return 0, nil
	}
	batch := m.processed
	m.processed = nil
	m.raw = nil
	s := *m.session
	var existing []model.Defect
	if m.cfg.DedupeSeparation > 0 {
		existing = append(existing, m.defects...)
	}
	m.mu.Unlock()

	params := s.Parameters
	found := signal.DetectDefects(batch, params.Threshold, params.GateA, params.GateB)
	if m.cfg.DedupeSeparation > 0 {
		found = signal.DedupeDefects(existing, found, m.cfg.DedupeSeparation)
	}
	for i := range found {
		found[i].SessionID = s.ID
	}

	m.mu.Lock()
	m.defects = append(m.defects, found...)
	m.flushes++
	m.mu.Unlock()

	var errs []error
	if err := m.store.SaveSignalData(ctx, s.ID, batch); err != nil {
		errs = append(errs, err)
	}
	if len(found) > 0 {
		if err := m.store.SaveDefects(ctx, s.ID, found); err != nil {
			errs = append(errs, err)
		}
	}

	m.metrics.RecordFlush(len(batch))
	for i := range found {
		m.metrics.DefectDetected(string(found[i].Severity))
		if m.bus != nil {
			m.bus.TryPublish(events.DefectEvent{
				SessionID:   s.ID,
				ProjectName: s.ProjectName,
				Defect:      found[i],
				DetectedAt:  found[i].Timestamp,
			})
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		m.log.Error("failed to persist flushed batch",
			logger.String("session_id", s.ID),
			logger.Int("samples", len(batch)),
			logger.Error(err))
	} else {
		m.log.Debug("flushed batch",
			logger.String("session_id", s.ID),
			logger.Int("samples", len(batch)),
			logger.Int("defects", len(found)))
	}

	m.nudgeSync()
	m.notify()
	return len(batch), err
}
