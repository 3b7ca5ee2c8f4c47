package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/awb/internal/calib"
)

// ErrNotFound reports a missing row.
var ErrNotFound = errors.New("not found")

// CalibrationSummary lists a stored set without its profile tables.
type CalibrationSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Resolutions []string  `json:"resolutions"`
	Illuminants int       `json:"illuminants"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
}

// CalibrationStore keeps calibration sets and serves the active one to
// the pipeline. It implements calib.Source.
type CalibrationStore struct {
	db *DB
}

var _ calib.Source = (*CalibrationStore)(nil)

// NewCalibrationStore returns a store backed by db.
func NewCalibrationStore(db *DB) *CalibrationStore {
	return &CalibrationStore{db: db}
}

// Save validates and stores set, assigning an ID when it has none. Saving
// an existing ID replaces its content but keeps its active flag.
func (s *CalibrationStore) Save(set *calib.Set) (string, error) {
	if err := set.Validate(); err != nil {
		return "", err
	}
	if set.ID == "" {
		set.ID = uuid.New().String()
	}
	data, err := json.Marshal(set)
	if err != nil {
		return "", fmt.Errorf("encode calibration: %w", err)
	}
	err = retryOnBusy(func() error {
		_, err := s.db.Exec(`
			INSERT INTO calibration_sets (set_id, name, resolutions, illuminants, set_json, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (set_id) DO UPDATE SET
				name = excluded.name,
				resolutions = excluded.resolutions,
				illuminants = excluded.illuminants,
				set_json = excluded.set_json`,
			set.ID, set.Name, strings.Join(set.Global.ResolutionNames, ","),
			len(set.Illuminants), string(data), time.Now().UnixNano(),
		)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("save calibration %s: %w", set.ID, err)
	}
	return set.ID, nil
}

// Get returns the stored set with id.
func (s *CalibrationStore) Get(id string) (*calib.Set, error) {
	var data string
	err := s.db.QueryRow(`SELECT set_json FROM calibration_sets WHERE set_id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("calibration set %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query calibration set %q: %w", id, err)
	}
	return decodeSet(data)
}

// List returns every stored set, newest first.
func (s *CalibrationStore) List() ([]CalibrationSummary, error) {
	rows, err := s.db.Query(`
		SELECT set_id, name, resolutions, illuminants, active, created_at
		FROM calibration_sets
		ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list calibration sets: %w", err)
	}
	defer rows.Close()

	var out []CalibrationSummary
	for rows.Next() {
		var (
			c       CalibrationSummary
			res     string
			created int64
		)
		if err := rows.Scan(&c.ID, &c.Name, &res, &c.Illuminants, &c.Active, &created); err != nil {
			return nil, fmt.Errorf("scan calibration set: %w", err)
		}
		if res != "" {
			c.Resolutions = strings.Split(res, ",")
		}
		c.CreatedAt = time.Unix(0, created).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// Activate makes id the set served by Load.
func (s *CalibrationStore) Activate(id string) error {
	return retryOnBusy(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.Exec(`UPDATE calibration_sets SET active = 0 WHERE active = 1`); err != nil {
			return fmt.Errorf("clear active set: %w", err)
		}
		res, err := tx.Exec(`UPDATE calibration_sets SET active = 1 WHERE set_id = ?`, id)
		if err != nil {
			return fmt.Errorf("activate %q: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if n == 0 {
			return fmt.Errorf("calibration set %q: %w", id, ErrNotFound)
		}
		return tx.Commit()
	})
}

// Active returns the active set.
func (s *CalibrationStore) Active() (*calib.Set, error) {
	var data string
	err := s.db.QueryRow(`SELECT set_json FROM calibration_sets WHERE active = 1`).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active calibration set: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query active calibration set: %w", err)
	}
	return decodeSet(data)
}

// Load implements calib.Source by serving the active set.
func (s *CalibrationStore) Load(resolution string) (*calib.Set, error) {
	set, err := s.Active()
	if err != nil {
		return nil, err
	}
	if !set.SupportsResolution(resolution) {
		return nil, fmt.Errorf("%w: resolution %q in set %q", calib.ErrUnknownProfile, resolution, set.ID)
	}
	return set, nil
}

// Delete removes the set with id.
func (s *CalibrationStore) Delete(id string) error {
	return retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM calibration_sets WHERE set_id = ?`, id)
		if err != nil {
			return fmt.Errorf("delete calibration set: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("calibration set %q: %w", id, ErrNotFound)
		}
		return nil
	})
}

func decodeSet(data string) (*calib.Set, error) {
	var set calib.Set
	if err := json.Unmarshal([]byte(data), &set); err != nil {
		return nil, fmt.Errorf("decode calibration: %w", err)
	}
	if err := set.Validate(); err != nil {
		return nil, err
	}
	return &set, nil
}
