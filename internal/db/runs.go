package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/awb/internal/awb"
)

// Run is one Start..Stop span of a context.
type Run struct {
	ID         string          `json:"run_id"`
	ContextID  string          `json:"context_id"`
	SetID      string          `json:"set_id"`
	Mode       awb.Mode        `json:"mode"`
	StartArg   float64         `json:"start_arg"`
	Config     json.RawMessage `json:"config,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	FrameCount int64           `json:"frame_count"`
}

// FrameRow is the flattened per-frame record of a run.
type FrameRow struct {
	Seq          uint64        `json:"seq"`
	Time         time.Time     `json:"time"`
	Latency      time.Duration `json:"latency_ns"`
	Illuminant   string        `json:"illuminant"`
	Region       string        `json:"region"`
	GainR        float64       `json:"gain_r"`
	GainB        float64       `json:"gain_b"`
	Rg           float64       `json:"rg"`
	Bg           float64       `json:"bg"`
	Damping      float64       `json:"damping"`
	NoWhitePixel uint32        `json:"no_white_pixel"`
	Settled      bool          `json:"settled"`
}

// RunStore records AWB runs and their frames.
type RunStore struct {
	db *DB
}

// NewRunStore returns a store backed by db.
func NewRunStore(db *DB) *RunStore {
	return &RunStore{db: db}
}

// StartRun opens a run and returns its ID.
func (s *RunStore) StartRun(contextID, setID string, mode awb.Mode, arg float64, cfg *awb.Config) (string, error) {
	var cfgJSON sql.NullString
	if cfg != nil {
		data, err := json.Marshal(cfg)
		if err != nil {
			return "", fmt.Errorf("encode config: %w", err)
		}
		cfgJSON = sql.NullString{String: string(data), Valid: true}
	}
	id := uuid.New().String()
	err := retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO awb_runs (run_id, context_id, set_id, mode, start_arg, config_json, started_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, contextID, setID, string(mode), arg, cfgJSON, time.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("start run: %w", err)
	}
	return id, nil
}

// RecordFrame stores snap as frame snap.Frames of runID.
func (s *RunStore) RecordFrame(runID string, snap awb.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	var ts int64
	if !snap.Time.IsZero() {
		ts = snap.Time.UnixNano()
	}
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		_, err = tx.Exec(`
			INSERT INTO awb_frames (
				run_id, frame_seq, ts_unix_nanos, latency_ns, illuminant, region,
				gain_r, gain_b, rg, bg, damping, no_white_pixel, settled, snapshot_json
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, snap.Frames, ts, int64(snap.Latency), snap.IlluminantName, string(snap.Estimate.Region),
			snap.Gain.Gains.Red, snap.Gain.Gains.Blue, snap.Gain.Ratio.Rg, snap.Gain.Ratio.Bg,
			snap.Gain.Damping, snap.NoWhitePixel, snap.Settled, string(data),
		)
		if err != nil {
			return fmt.Errorf("insert frame %d: %w", snap.Frames, err)
		}
		if _, err := tx.Exec(`UPDATE awb_runs SET frame_count = frame_count + 1 WHERE run_id = ?`, runID); err != nil {
			return fmt.Errorf("update frame count: %w", err)
		}
		return tx.Commit()
	})
}

// FinishRun stamps the run's end time.
func (s *RunStore) FinishRun(runID string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`UPDATE awb_runs SET finished_at = ? WHERE run_id = ? AND finished_at IS NULL`,
			time.Now().UnixNano(), runID)
		if err != nil {
			return fmt.Errorf("finish run: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("open run %q: %w", runID, ErrNotFound)
		}
		return nil
	})
}

// Runs returns up to limit runs, newest first.
func (s *RunStore) Runs(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT run_id, context_id, set_id, mode, start_arg, config_json, started_at, finished_at, frame_count
		FROM awb_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r        Run
			mode     string
			cfg      sql.NullString
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &r.ContextID, &r.SetID, &mode, &r.StartArg, &cfg, &started, &finished, &r.FrameCount); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Mode = awb.Mode(mode)
		if cfg.Valid {
			r.Config = json.RawMessage(cfg.String)
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if finished.Valid {
			t := time.Unix(0, finished.Int64).UTC()
			r.FinishedAt = &t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Frames returns up to limit frames of runID in sequence order.
func (s *RunStore) Frames(runID string, limit int) ([]FrameRow, error) {
	rows, err := s.db.Query(`
		SELECT frame_seq, ts_unix_nanos, latency_ns, illuminant, region,
		       gain_r, gain_b, rg, bg, damping, no_white_pixel, settled
		FROM awb_frames
		WHERE run_id = ?
		ORDER BY frame_seq
		LIMIT ?`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("list frames: %w", err)
	}
	defer rows.Close()

	var out []FrameRow
	for rows.Next() {
		var (
			f       FrameRow
			ts      int64
			latency int64
		)
		if err := rows.Scan(&f.Seq, &ts, &latency, &f.Illuminant, &f.Region,
			&f.GainR, &f.GainB, &f.Rg, &f.Bg, &f.Damping, &f.NoWhitePixel, &f.Settled); err != nil {
			return nil, fmt.Errorf("scan frame: %w", err)
		}
		if ts != 0 {
			f.Time = time.Unix(0, ts).UTC()
		}
		f.Latency = time.Duration(latency)
		out = append(out, f)
	}
	return out, rows.Err()
}

// Snapshot returns the full snapshot stored for frame seq of runID.
func (s *RunStore) Snapshot(runID string, seq uint64) (awb.Snapshot, error) {
	var data sql.NullString
	err := s.db.QueryRow(`SELECT snapshot_json FROM awb_frames WHERE run_id = ? AND frame_seq = ?`, runID, seq).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !data.Valid) {
		return awb.Snapshot{}, fmt.Errorf("frame %d of run %q: %w", seq, runID, ErrNotFound)
	}
	if err != nil {
		return awb.Snapshot{}, fmt.Errorf("query snapshot: %w", err)
	}
	var snap awb.Snapshot
	if err := json.Unmarshal([]byte(data.String), &snap); err != nil {
		return awb.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}
