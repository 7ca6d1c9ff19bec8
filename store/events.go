package store

import (
	"fmt"
	"time"

	"gorm.io/datatypes"
)

// LogEvent appends an audit row. Writes share the caller's transaction, so
// an event only survives if the action it describes commits.
func (s *Store) LogEvent(action ActionType, inputSummary, outputSummary string, relatedIDs map[string]any) error {
	row := EventLog{
		Timestamp:     time.Now().UTC(),
		ActionType:    action,
		InputSummary:  inputSummary,
		OutputSummary: outputSummary,
	}
	if relatedIDs != nil {
		row.RelatedIDs = datatypes.JSONMap(relatedIDs)
	}
	if err := s.db.Create(&row).Error; err != nil {
		return fmt.Errorf("logging %s event: %w", action, err)
	}
	return nil
}

// RecentEvents returns the newest audit rows first.
func (s *Store) RecentEvents(limit int) ([]EventLog, error) {
	q := s.db.Order("timestamp DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []EventLog
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("loading events: %w", err)
	}
	return out, nil
}
