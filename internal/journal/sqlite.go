// Package journal persists the time-ordered record of executed file
// operations and derives rollback scripts from it.
package journal

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"filesafe/internal/journal/migrations"
	"filesafe/internal/model"
	"filesafe/internal/safety"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLite is the durable journal implementation. Records live in a single
// SQLite database under the journal directory, written with WAL and a busy
// timeout so every append is synced through the database rather than by
// rewriting a log file.
type SQLite struct {
	db   *sql.DB
	path string
	scriptEngine
}

var _ safety.Journal = (*SQLite)(nil)

// NewSQLite opens (or creates) the journal database under dir and brings the
// schema up to date. A fresh directory yields an empty journal; a database
// that cannot be migrated cleanly raises CORRUPTION_DETECTED.
func NewSQLite(dir string, fsmgr safety.FilesystemManager, backup safety.BackupProvider, clock safety.Clock, idgen safety.IDGenerator) (*SQLite, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}
	path := filepath.Join(dir, "journal.db")

	db, err := openConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.Up(db); err != nil {
		db.Close()
		return nil, safety.WrapError(safety.CodeCorruptionDetected, err, "journal schema at %s", path)
	}
	if err := migrations.Check(db); err != nil {
		db.Close()
		return nil, safety.WrapError(safety.CodeCorruptionDetected, err, "journal schema at %s", path)
	}

	return &SQLite{
		db:   db,
		path: path,
		scriptEngine: scriptEngine{
			fsmgr:  fsmgr,
			backup: backup,
			clock:  clock,
			idgen:  idgen,
		},
	}, nil
}

// openConnection opens and configures a SQLite connection. WAL and the busy
// timeout keep appends durable and tolerant of a second reader.
func openConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening journal database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return db, nil
}

// LogOperation appends one record.
func (s *SQLite) LogOperation(rec *model.OperationRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	operation, err := marshalNullable(rec.Operation)
	if err != nil {
		return safety.WrapError(safety.CodeOperationFailed, err, "encoding operation")
	}
	before, err := marshalNullable(rec.BeforeState)
	if err != nil {
		return safety.WrapError(safety.CodeOperationFailed, err, "encoding before state")
	}
	after, err := marshalNullable(rec.AfterState)
	if err != nil {
		return safety.WrapError(safety.CodeOperationFailed, err, "encoding after state")
	}
	var rollbackOps any
	if len(rec.RollbackOps) > 0 {
		data, err := json.Marshal(rec.RollbackOps)
		if err != nil {
			return safety.WrapError(safety.CodeOperationFailed, err, "encoding rollback ops")
		}
		rollbackOps = string(data)
	}

	_, err = s.db.Exec(`
		INSERT INTO operation_records
			(id, transaction_id, operation, before_state, after_state, rollback_ops, success, error, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.TransactionID, operation, before, after, rollbackOps,
		rec.Success, rec.Error, rec.Timestamp.UnixNano())
	if err != nil {
		return safety.WrapError(safety.CodeOperationFailed, err, "persisting journal record").WithTransaction(rec.TransactionID)
	}
	return nil
}

// Operations returns one transaction's records in execution order.
func (s *SQLite) Operations(transactionID string) ([]*model.OperationRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, transaction_id, operation, before_state, after_state, rollback_ops, success, error, created_at_ns
		FROM operation_records
		WHERE transaction_id = ?
		ORDER BY created_at_ns ASC, rowid ASC`, transactionID)
	if err != nil {
		return nil, fmt.Errorf("querying transaction records: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// History returns the most recent records across all transactions, newest
// first. limit <= 0 means no limit.
func (s *SQLite) History(limit int) ([]*model.OperationRecord, error) {
	query := `
		SELECT id, transaction_id, operation, before_state, after_state, rollback_ops, success, error, created_at_ns
		FROM operation_records
		ORDER BY created_at_ns DESC, rowid DESC`
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = s.db.Query(query+" LIMIT ?", limit)
	} else {
		rows, err = s.db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// CreateRollbackScript derives the inverse script for a transaction.
func (s *SQLite) CreateRollbackScript(transactionID string) (*model.RollbackScript, error) {
	records, err := s.Operations(transactionID)
	if err != nil {
		return nil, err
	}
	return s.deriveScript(transactionID, records)
}

// ExecuteRollback runs a derived script.
func (s *SQLite) ExecuteRollback(script *model.RollbackScript) error {
	return s.executeScript(script)
}

// CleanupOldRecords drops all records strictly older than cutoff.
func (s *SQLite) CleanupOldRecords(cutoff time.Time) error {
	if _, err := s.db.Exec(`DELETE FROM operation_records WHERE created_at_ns < ?`, cutoff.UnixNano()); err != nil {
		return safety.WrapError(safety.CodeOperationFailed, err, "cleaning up journal records")
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func validateRecord(rec *model.OperationRecord) error {
	if rec.ID == "" {
		return safety.NewError(safety.CodeValidationFailed, "journal record without an id")
	}
	if rec.TransactionID == "" {
		return safety.NewError(safety.CodeValidationFailed, "journal record without a transaction id")
	}
	return nil
}

func marshalNullable(v any) (any, error) {
	switch val := v.(type) {
	case *model.FileOperation:
		if val == nil {
			return nil, nil
		}
	case *model.FileStateInfo:
		if val == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func scanRecords(rows *sql.Rows) ([]*model.OperationRecord, error) {
	var records []*model.OperationRecord
	for rows.Next() {
		var (
			rec                            model.OperationRecord
			operation, before, after, rops sql.NullString
			createdAtNs                    int64
		)
		if err := rows.Scan(&rec.ID, &rec.TransactionID, &operation, &before, &after, &rops,
			&rec.Success, &rec.Error, &createdAtNs); err != nil {
			return nil, fmt.Errorf("scanning journal record: %w", err)
		}
		rec.Timestamp = time.Unix(0, createdAtNs)

		if err := unmarshalInto(operation, &rec.Operation); err != nil {
			return nil, safety.WrapError(safety.CodeCorruptionDetected, err, "decoding operation of record %s", rec.ID)
		}
		if err := unmarshalInto(before, &rec.BeforeState); err != nil {
			return nil, safety.WrapError(safety.CodeCorruptionDetected, err, "decoding before state of record %s", rec.ID)
		}
		if err := unmarshalInto(after, &rec.AfterState); err != nil {
			return nil, safety.WrapError(safety.CodeCorruptionDetected, err, "decoding after state of record %s", rec.ID)
		}
		if rops.Valid && rops.String != "" {
			if err := json.Unmarshal([]byte(rops.String), &rec.RollbackOps); err != nil {
				return nil, safety.WrapError(safety.CodeCorruptionDetected, err, "decoding rollback ops of record %s", rec.ID)
			}
		}

		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal records: %w", err)
	}
	return records, nil
}

func unmarshalInto[T any](col sql.NullString, target **T) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	value := new(T)
	if err := json.Unmarshal([]byte(col.String), value); err != nil {
		return err
	}
	*target = value
	return nil
}
