package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pixil98/go-playerdata/internal/record"

	_ "modernc.org/sqlite" // pure Go sqlite driver, no cgo
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS player_records (
	identity            TEXT PRIMARY KEY,
	combat_logout_phase TEXT NOT NULL DEFAULT 'none',
	rank                TEXT NOT NULL DEFAULT '',
	inventory_json      TEXT NOT NULL,
	stats_json          TEXT NOT NULL,
	location_json       TEXT NOT NULL,
	last_save_at        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_player_records_phase ON player_records(combat_logout_phase);
`

// SqliteStore persists player records in a single SQLite database. Opened
// with WAL and a single writer connection, which matches the store's usage:
// saves for different identities may arrive concurrently but are cheap.
type SqliteStore struct {
	db *sql.DB
}

func NewSqliteStore(path string) (*SqliteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	// sqlite supports a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SqliteStore{db: db}, nil
}

func (s *SqliteStore) Find(ctx context.Context, id record.Identity) (*record.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT combat_logout_phase, rank, inventory_json, stats_json, location_json, last_save_at
		FROM player_records WHERE identity = ?`, string(id))

	var (
		phaseText string
		rank      string
		invJSON   string
		statsJSON string
		locJSON   string
		saveMs    int64
	)
	err := row.Scan(&phaseText, &rank, &invJSON, &statsJSON, &locJSON, &saveMs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying record %s: %w", id, err)
	}

	r := &record.Record{
		Identity: id,
		Rank:     rank,
	}
	if err := r.Phase.UnmarshalText([]byte(phaseText)); err != nil {
		return nil, fmt.Errorf("record %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(invJSON), &r.Inventory); err != nil {
		return nil, fmt.Errorf("record %s: unmarshalling inventory: %w", id, err)
	}
	if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
		return nil, fmt.Errorf("record %s: unmarshalling stats: %w", id, err)
	}
	if err := json.Unmarshal([]byte(locJSON), &r.Location); err != nil {
		return nil, fmt.Errorf("record %s: unmarshalling location: %w", id, err)
	}
	if saveMs > 0 {
		r.LastSaveAt = time.UnixMilli(saveMs).UTC()
	}

	return r, nil
}

func (s *SqliteStore) Save(ctx context.Context, r *record.Record) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("validating record: %w", err)
	}

	inv := r.Inventory
	if inv == nil {
		inv = []record.ItemStack{}
	}
	invJSON, err := json.Marshal(inv)
	if err != nil {
		return fmt.Errorf("marshalling inventory: %w", err)
	}
	statsJSON, err := json.Marshal(r.Stats)
	if err != nil {
		return fmt.Errorf("marshalling stats: %w", err)
	}
	locJSON, err := json.Marshal(r.Location)
	if err != nil {
		return fmt.Errorf("marshalling location: %w", err)
	}

	var saveMs int64
	if !r.LastSaveAt.IsZero() {
		saveMs = r.LastSaveAt.UTC().UnixMilli()
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO player_records
			(identity, combat_logout_phase, rank, inventory_json, stats_json, location_json, last_save_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(identity) DO UPDATE SET
			combat_logout_phase = excluded.combat_logout_phase,
			rank                = excluded.rank,
			inventory_json      = excluded.inventory_json,
			stats_json          = excluded.stats_json,
			location_json       = excluded.location_json,
			last_save_at        = excluded.last_save_at`,
		string(r.Identity), r.Phase.String(), r.Rank,
		string(invJSON), string(statsJSON), string(locJSON), saveMs)
	if err != nil {
		return fmt.Errorf("saving record %s: %w", r.Identity, err)
	}

	return nil
}

func (s *SqliteStore) IdentitiesInPhase(ctx context.Context, p record.Phase) ([]record.Identity, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT identity FROM player_records WHERE combat_logout_phase = ?`, p.String())
	if err != nil {
		return nil, fmt.Errorf("querying phase %s: %w", p, err)
	}
	defer func() { _ = rows.Close() }()

	var ids []record.Identity
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning identity: %w", err)
		}
		ids = append(ids, record.Identity(id))
	}
	return ids, rows.Err()
}

func (s *SqliteStore) Close() error {
	return s.db.Close()
}
