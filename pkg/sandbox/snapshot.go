package sandbox

import (
	"bytes"
	"context"
	"encoding/gob"
	"sort"

	"github.com/cockroachdb/errors"
)

// Column describes one table column.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"notnull"`
	PrimaryKey bool   `json:"pk"`
	// PKPosition is the one based position within a composite primary key.
	PKPosition int `json:"-"`
}

// Row maps column names to values.
type Row map[string]Value

// Snapshot is the complete observable state of an instance: every user table
// with its columns in declaration order and its rows in primary key order.
type Snapshot struct {
	Tables []string            `json:"tables"`
	Schema map[string][]Column `json:"schema"`
	Rows   map[string][]Row    `json:"rows,omitempty"`
}

// SchemaOnly returns a copy of s without row data.
func (s *Snapshot) SchemaOnly() *Snapshot {
	return &Snapshot{Tables: s.Tables, Schema: s.Schema}
}

// Snapshot captures the schema and all rows of inst.
func (m *Manager) Snapshot(ctx context.Context, inst *Instance) (*Snapshot, error) {
	return m.capture(ctx, inst, true)
}

// Schema captures tables and columns without reading rows.
func (m *Manager) Schema(ctx context.Context, inst *Instance) (*Snapshot, error) {
	return m.capture(ctx, inst, false)
}

func (m *Manager) capture(ctx context.Context, inst *Instance, withRows bool) (*Snapshot, error) {
	if inst.Closed() {
		return nil, ErrInstanceClosed
	}
	ctx, cancel := context.WithTimeout(ctx, m.opts.SnapshotTimeout)
	defer cancel()

	tables, err := inst.backend.Tables(ctx)
	if err != nil {
		return nil, m.fail(newError(ErrorKindSnapshot, -1, "list tables", err))
	}
	sort.Strings(tables)

	snap := &Snapshot{
		Tables: tables,
		Schema: make(map[string][]Column, len(tables)),
	}
	if withRows {
		snap.Rows = make(map[string][]Row, len(tables))
	}
	for _, table := range tables {
		cols, err := inst.backend.Columns(ctx, table)
		if err != nil {
			return nil, m.fail(newError(ErrorKindSnapshot, -1, "describe table "+table, err))
		}
		snap.Schema[table] = cols
		if !withRows {
			continue
		}
		values, err := inst.backend.Rows(ctx, table, cols)
		if err != nil {
			return nil, m.fail(newError(ErrorKindSnapshot, -1, "read table "+table, err))
		}
		names := make([]string, len(cols))
		for i, c := range cols {
			names[i] = c.Name
		}
		_, rows := toRows(names, values)
		snap.Rows[table] = rows
	}
	return snap, nil
}

// primaryKey returns the primary key columns in key order.
func primaryKey(cols []Column) []Column {
	pk := make([]Column, 0, 2)
	for _, c := range cols {
		if c.PrimaryKey {
			pk = append(pk, c)
		}
	}
	sort.SliceStable(pk, func(i, j int) bool { return pk[i].PKPosition < pk[j].PKPosition })
	return pk
}

// EncodeSnapshot serialises s for caching.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s); err != nil {
		return nil, errors.Wrap(err, "encode snapshot")
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&s); err != nil {
		return nil, errors.Wrap(err, "decode snapshot")
	}
	return &s, nil
}
