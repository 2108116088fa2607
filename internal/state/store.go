package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hivekit/hive/pkg/models"
)

// SaveMission upserts a mission together with its squads and subtasks.
func (db *DB) SaveMission(m *models.Mission) error {
	return db.Transaction(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO missions (id, instruction, requester, channel_id, status, final_report, created_at, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				status = excluded.status,
				final_report = excluded.final_report,
				completed_at = excluded.completed_at
		`, m.ID, m.Instruction, m.Requester, m.ChannelID, string(m.Status),
			m.FinalReport, formatTime(m.CreatedAt), nullableTime(m.CompletedAt))
		if err != nil {
			return fmt.Errorf("save mission %s: %w", m.ID, err)
		}

		for _, sq := range m.Squads {
			deliverables, err := json.Marshal(sq.Deliverables)
			if err != nil {
				return fmt.Errorf("marshal deliverables: %w", err)
			}
			_, err = tx.Exec(`
				INSERT INTO squads (id, mission_id, callsign, specialist, objective, context, deliverables, status, priority, result, started_at, completed_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					status = excluded.status,
					result = excluded.result,
					started_at = excluded.started_at,
					completed_at = excluded.completed_at
			`, sq.ID, m.ID, sq.Callsign, string(sq.Specialist), sq.Objective, sq.Context,
				string(deliverables), string(sq.Status), sq.Priority, sq.Result,
				nullableTime(sq.StartedAt), nullableTime(sq.CompletedAt))
			if err != nil {
				return fmt.Errorf("save squad %s: %w", sq.ID, err)
			}

			for _, st := range sq.SubTasks {
				_, err = tx.Exec(`
					INSERT INTO subtasks (id, squad_id, description, executor, status, result, started_at, completed_at)
					VALUES (?, ?, ?, ?, ?, ?, ?, ?)
					ON CONFLICT(id) DO UPDATE SET
						status = excluded.status,
						result = excluded.result,
						started_at = excluded.started_at,
						completed_at = excluded.completed_at
				`, st.ID, sq.ID, st.Description, st.Executor, string(st.Status),
					st.Result, nullableTime(st.StartedAt), nullableTime(st.CompletedAt))
				if err != nil {
					return fmt.Errorf("save subtask %s: %w", st.ID, err)
				}
			}
		}
		return nil
	})
}

// GetMission loads a mission with its squads and subtasks.
func (db *DB) GetMission(id string) (*models.Mission, error) {
	m := &models.Mission{}
	var status, createdAt string
	var completedAt sql.NullString

	row := db.QueryRow(`
		SELECT id, instruction, requester, channel_id, status, final_report, created_at, completed_at
		FROM missions WHERE id = ?
	`, id)
	err := row.Scan(&m.ID, &m.Instruction, &m.Requester, &m.ChannelID, &status,
		&m.FinalReport, &createdAt, &completedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("mission %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get mission %s: %w", id, err)
	}
	m.Status = models.MissionStatus(status)
	if t, err := parseTime(createdAt); err == nil {
		m.CreatedAt = t
	}
	if t := parseNullableTime(completedAt); t != nil {
		m.CompletedAt = *t
	}

	if err := db.loadSquads(m); err != nil {
		return nil, err
	}
	return m, nil
}

// loadSquads populates a mission's squads and their subtasks.
func (db *DB) loadSquads(m *models.Mission) error {
	rows, err := db.Query(`
		SELECT id, callsign, specialist, objective, context, deliverables, status, priority, result, started_at, completed_at
		FROM squads WHERE mission_id = ? ORDER BY priority, callsign
	`, m.ID)
	if err != nil {
		return fmt.Errorf("load squads for %s: %w", m.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		sq := &models.Squad{MissionID: m.ID}
		var specialist, status, deliverables string
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&sq.ID, &sq.Callsign, &specialist, &sq.Objective, &sq.Context,
			&deliverables, &status, &sq.Priority, &sq.Result, &startedAt, &completedAt); err != nil {
			return fmt.Errorf("scan squad: %w", err)
		}
		sq.Specialist = models.Role(specialist)
		sq.Status = models.UnitStatus(status)
		if err := json.Unmarshal([]byte(deliverables), &sq.Deliverables); err != nil {
			sq.Deliverables = nil
		}
		if t := parseNullableTime(startedAt); t != nil {
			sq.StartedAt = *t
		}
		if t := parseNullableTime(completedAt); t != nil {
			sq.CompletedAt = *t
		}
		m.Squads = append(m.Squads, sq)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate squads: %w", err)
	}

	for _, sq := range m.Squads {
		if err := db.loadSubTasks(sq); err != nil {
			return err
		}
	}
	return nil
}

// loadSubTasks populates a squad's subtasks.
func (db *DB) loadSubTasks(sq *models.Squad) error {
	rows, err := db.Query(`
		SELECT id, description, executor, status, result, started_at, completed_at
		FROM subtasks WHERE squad_id = ? ORDER BY id
	`, sq.ID)
	if err != nil {
		return fmt.Errorf("load subtasks for %s: %w", sq.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		st := &models.SubTask{SquadID: sq.ID}
		var status string
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&st.ID, &st.Description, &st.Executor, &status,
			&st.Result, &startedAt, &completedAt); err != nil {
			return fmt.Errorf("scan subtask: %w", err)
		}
		st.Status = models.UnitStatus(status)
		if t := parseNullableTime(startedAt); t != nil {
			st.StartedAt = *t
		}
		if t := parseNullableTime(completedAt); t != nil {
			st.CompletedAt = *t
		}
		sq.SubTasks = append(sq.SubTasks, st)
	}
	return rows.Err()
}

// ListMissions returns mission headers (no squads), newest first.
func (db *DB) ListMissions(limit int) ([]*models.Mission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, instruction, requester, channel_id, status, final_report, created_at, completed_at
		FROM missions ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	defer rows.Close()

	var out []*models.Mission
	for rows.Next() {
		m := &models.Mission{}
		var status, createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&m.ID, &m.Instruction, &m.Requester, &m.ChannelID, &status,
			&m.FinalReport, &createdAt, &completedAt); err != nil {
			return nil, fmt.Errorf("scan mission: %w", err)
		}
		m.Status = models.MissionStatus(status)
		if t, err := parseTime(createdAt); err == nil {
			m.CreatedAt = t
		}
		if t := parseNullableTime(completedAt); t != nil {
			m.CompletedAt = *t
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SavePipelineItem upserts a pipeline item. Transitions are appended
// separately via AppendTransition and never updated.
func (db *DB) SavePipelineItem(item *models.PipelineItem) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = db.Exec(`
		INSERT INTO pipeline_items (id, title, description, stage, status, priority, assignee, created_by, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			stage = excluded.stage,
			status = excluded.status,
			priority = excluded.priority,
			assignee = excluded.assignee,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, item.ID, item.Title, item.Description, string(item.Stage), string(item.Status),
		string(item.Priority), string(item.Assignee), string(item.CreatedBy),
		string(metadata), formatTime(item.CreatedAt), formatTime(item.UpdatedAt))
	if err != nil {
		return fmt.Errorf("save pipeline item %s: %w", item.ID, err)
	}
	return nil
}

// AppendTransition records one immutable stage transition.
func (db *DB) AppendTransition(itemID string, tr models.Transition) error {
	_, err := db.Exec(`
		INSERT INTO transitions (item_id, from_stage, to_stage, triggered_by, reason, at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, itemID, string(tr.From), string(tr.To), string(tr.TriggeredBy), tr.Reason, formatTime(tr.Timestamp))
	if err != nil {
		return fmt.Errorf("append transition for %s: %w", itemID, err)
	}
	return nil
}

// GetPipelineItem loads one item with its transition history.
func (db *DB) GetPipelineItem(id string) (*models.PipelineItem, error) {
	item := &models.PipelineItem{}
	var stage, status, priority, assignee, createdBy, metadata, createdAt, updatedAt string

	row := db.QueryRow(`
		SELECT id, title, description, stage, status, priority, assignee, created_by, metadata, created_at, updated_at
		FROM pipeline_items WHERE id = ?
	`, id)
	err := row.Scan(&item.ID, &item.Title, &item.Description, &stage, &status, &priority,
		&assignee, &createdBy, &metadata, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("pipeline item %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get pipeline item %s: %w", id, err)
	}
	item.Stage = models.Stage(stage)
	item.Status = models.ItemStatus(status)
	item.Priority = models.Priority(priority)
	item.Assignee = models.Role(assignee)
	item.CreatedBy = models.Role(createdBy)
	if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
		item.Metadata = nil
	}
	if t, err := parseTime(createdAt); err == nil {
		item.CreatedAt = t
	}
	if t, err := parseTime(updatedAt); err == nil {
		item.UpdatedAt = t
	}

	rows, err := db.Query(`
		SELECT from_stage, to_stage, triggered_by, reason, at
		FROM transitions WHERE item_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load transitions for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var tr models.Transition
		var from, to, by, at string
		if err := rows.Scan(&from, &to, &by, &tr.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		tr.From = models.Stage(from)
		tr.To = models.Stage(to)
		tr.TriggeredBy = models.Role(by)
		if t, err := parseTime(at); err == nil {
			tr.Timestamp = t
		}
		item.History = append(item.History, tr)
	}
	return item, rows.Err()
}

// ListPipelineItems returns items, optionally filtered by stage.
func (db *DB) ListPipelineItems(stage models.Stage) ([]*models.PipelineItem, error) {
	query := `
		SELECT id, title, description, stage, status, priority, assignee, created_by, metadata, created_at, updated_at
		FROM pipeline_items`
	var args []any
	if stage != "" {
		query += " WHERE stage = ?"
		args = append(args, string(stage))
	}
	query += " ORDER BY updated_at DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pipeline items: %w", err)
	}
	defer rows.Close()

	var out []*models.PipelineItem
	for rows.Next() {
		item := &models.PipelineItem{}
		var st, status, priority, assignee, createdBy, metadata, createdAt, updatedAt string
		if err := rows.Scan(&item.ID, &item.Title, &item.Description, &st, &status, &priority,
			&assignee, &createdBy, &metadata, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan pipeline item: %w", err)
		}
		item.Stage = models.Stage(st)
		item.Status = models.ItemStatus(status)
		item.Priority = models.Priority(priority)
		item.Assignee = models.Role(assignee)
		item.CreatedBy = models.Role(createdBy)
		if err := json.Unmarshal([]byte(metadata), &item.Metadata); err != nil {
			item.Metadata = nil
		}
		if t, err := parseTime(createdAt); err == nil {
			item.CreatedAt = t
		}
		if t, err := parseTime(updatedAt); err == nil {
			item.UpdatedAt = t
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// nullableTime renders a zero time as NULL for storage.
func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}
