package journal

import (
	"sort"
	"sync"
	"time"

	"filesafe/internal/model"
	"filesafe/internal/safety"
)

// Memory is an in-memory journal. It keeps the same per-transaction and
// global time ordering as the SQLite journal but persists nothing, which
// makes it the store of choice for tests and throwaway runs.
type Memory struct {
	mu      sync.Mutex
	byTx    map[string][]*model.OperationRecord
	ordered []*model.OperationRecord
	scriptEngine
}

var _ safety.Journal = (*Memory)(nil)

// NewMemory creates an empty in-memory journal.
func NewMemory(fsmgr safety.FilesystemManager, backup safety.BackupProvider, clock safety.Clock, idgen safety.IDGenerator) *Memory {
	return &Memory{
		byTx: make(map[string][]*model.OperationRecord),
		scriptEngine: scriptEngine{
			fsmgr:  fsmgr,
			backup: backup,
			clock:  clock,
			idgen:  idgen,
		},
	}
}

// LogOperation appends one record, keeping both indices time-sorted.
func (m *Memory) LogOperation(rec *model.OperationRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.byTx[rec.TransactionID] = insertSorted(m.byTx[rec.TransactionID], rec)
	m.ordered = insertSorted(m.ordered, rec)
	return nil
}

// Operations returns one transaction's records in execution order.
func (m *Memory) Operations(transactionID string) ([]*model.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.byTx[transactionID]
	out := make([]*model.OperationRecord, len(records))
	copy(out, records)
	return out, nil
}

// History returns the most recent records, newest first.
func (m *Memory) History(limit int) ([]*model.OperationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]*model.OperationRecord, 0, len(m.ordered))
	for i := len(m.ordered) - 1; i >= 0; i-- {
		out = append(out, m.ordered[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

// CreateRollbackScript derives the inverse script for a transaction.
func (m *Memory) CreateRollbackScript(transactionID string) (*model.RollbackScript, error) {
	records, err := m.Operations(transactionID)
	if err != nil {
		return nil, err
	}
	return m.deriveScript(transactionID, records)
}

// ExecuteRollback runs a derived script.
func (m *Memory) ExecuteRollback(script *model.RollbackScript) error {
	return m.executeScript(script)
}

// CleanupOldRecords drops all records strictly older than cutoff.
func (m *Memory) CleanupOldRecords(cutoff time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.ordered[:0]
	for _, rec := range m.ordered {
		if !rec.Timestamp.Before(cutoff) {
			kept = append(kept, rec)
		}
	}
	m.ordered = kept

	for txID, records := range m.byTx {
		keptTx := records[:0]
		for _, rec := range records {
			if !rec.Timestamp.Before(cutoff) {
				keptTx = append(keptTx, rec)
			}
		}
		if len(keptTx) == 0 {
			delete(m.byTx, txID)
		} else {
			m.byTx[txID] = keptTx
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// insertSorted appends rec keeping the slice ordered by timestamp. Appends
// are the common case; out-of-order records fall back to a binary search.
func insertSorted(records []*model.OperationRecord, rec *model.OperationRecord) []*model.OperationRecord {
	if n := len(records); n == 0 || !rec.Timestamp.Before(records[n-1].Timestamp) {
		return append(records, rec)
	}
	i := sort.Search(len(records), func(i int) bool {
		return records[i].Timestamp.After(rec.Timestamp)
	})
	records = append(records, nil)
	copy(records[i+1:], records[i:])
	records[i] = rec
	return records
}
