package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the registry in a single key table.
type SQLiteStore struct {
	db    *sql.DB
	retry retrier
}

// NewSQLiteStore opens (and creates if needed) the database at dbPath.
func NewSQLiteStore(dbPath string, attempts int, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS bots (
			bot_id TEXT PRIMARY KEY,
			bot_name TEXT NOT NULL,
			update_timestamp INTEGER NOT NULL
		)
	`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating bots table")
	}
	return &SQLiteStore{db: db, retry: newRetrier(attempts, logger)}, nil
}

func (s *SQLiteStore) Load(ctx context.Context) (map[string]Bot, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT bot_id, bot_name FROM bots`)
	if err != nil {
		return nil, errors.Wrap(err, "querying bots")
	}
	defer rows.Close()

	bots := map[string]Bot{}
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, errors.Wrap(err, "scanning bot row")
		}
		bots[id] = Bot{Name: name}
	}
	return bots, errors.Wrap(rows.Err(), "iterating bot rows")
}

// Save replaces the whole table with bots in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, bots map[string]Bot) error {
	return s.retry.do(ctx, "save", func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return errors.Wrap(err, "beginning transaction")
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bots`); err != nil {
			_ = tx.Rollback()
			return errors.Wrap(err, "clearing bots")
		}
		now := time.Now().UnixMicro()
		for id, bot := range bots {
			if _, err := tx.ExecContext(ctx, `INSERT INTO bots (bot_id, bot_name, update_timestamp) VALUES (?, ?, ?)`, id, bot.Name, now); err != nil {
				_ = tx.Rollback()
				return errors.Wrapf(err, "inserting bot %s", id)
			}
		}
		return errors.Wrap(tx.Commit(), "committing bots")
	})
}

func (s *SQLiteStore) Put(ctx context.Context, id string, bot Bot) error {
	return s.retry.do(ctx, "put", func() error {
		_, err := s.db.ExecContext(ctx, `
			REPLACE INTO bots (bot_id, bot_name, update_timestamp)
			VALUES (?, ?, ?)
		`, id, bot.Name, time.Now().UnixMicro())
		return errors.Wrap(err, "writing bot")
	})
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
