// Package diff compares two sandbox snapshots table by table and row by row.
package diff

import (
	"fmt"
	"sort"

	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

// Status is the verdict attached to a table that could not be compared row by
// row.
type Status string

const (
	StatusOK               Status = "ok"
	StatusExtraTable       Status = "extra_table"
	StatusMissingTable     Status = "missing_table"
	StatusRowCountMismatch Status = "row_count_mismatch"
	StatusColumnMismatch   Status = "column_mismatch"
)

// TableDiff is the result for one table. Either Status is set or Differences
// lists the rows that differ.
type TableDiff struct {
	Status         Status    `json:"status,omitempty"`
	StudentCount   *int      `json:"student_count,omitempty"`
	EtalonCount    *int      `json:"etalon_count,omitempty"`
	MissingColumns []string  `json:"missing_columns,omitempty"`
	ExtraColumns   []string  `json:"extra_columns,omitempty"`
	Differences    []RowDiff `json:"differences,omitempty"`
}

// RowDiff is a pair of rows at the same position whose values differ.
type RowDiff struct {
	RowIndex    int          `json:"row_index"`
	Student     sandbox.Row  `json:"student"`
	Etalon      sandbox.Row  `json:"etalon"`
	DiffColumns []ColumnDiff `json:"diff_columns"`
}

type ColumnDiff struct {
	Column       string        `json:"column"`
	StudentValue sandbox.Value `json:"student_value"`
	EtalonValue  sandbox.Value `json:"etalon_value"`
}

// Report maps table names to their differences. Tables that match are
// omitted.
type Report map[string]TableDiff

// Correct reports whether the report holds no status entry and no row
// differences.
func (r Report) Correct() bool {
	for _, td := range r {
		if td.Status != "" && td.Status != StatusOK {
			return false
		}
		if len(td.Differences) > 0 {
			return false
		}
	}
	return true
}

// Tables returns the table names of the report in order.
func (r Report) Tables() []string {
	names := make([]string, 0, len(r))
	for name := range r {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Error reports a malformed snapshot. It indicates a bug upstream rather than
// a wrong answer.
type Error struct {
	Side   string
	Table  string
	Reason string
}

func (e *Error) Error() string {
	if e.Table == "" {
		return fmt.Sprintf("malformed %s snapshot: %s", e.Side, e.Reason)
	}
	return fmt.Sprintf("malformed %s snapshot: table %q: %s", e.Side, e.Table, e.Reason)
}

type options struct {
	ignoreRowOrder bool
	strictSchema   bool
}

// Option adjusts the comparison.
type Option func(*options)

// WithIgnoreRowOrder sorts the rows of tables that have no primary key before
// comparing them by position.
func WithIgnoreRowOrder() Option {
	return func(o *options) { o.ignoreRowOrder = true }
}

// WithStrictSchema reports column_mismatch for shared tables whose column
// names differ, instead of comparing the common columns only.
func WithStrictSchema() Option {
	return func(o *options) { o.strictSchema = true }
}

// Compare diffs student against etalon. Table names are matched first; tables
// present in both are compared by row count, then row by row over the columns
// they share, in etalon column order.
func Compare(student, etalon *sandbox.Snapshot, opts ...Option) (Report, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := validate("student", student); err != nil {
		return nil, err
	}
	if err := validate("etalon", etalon); err != nil {
		return nil, err
	}

	report := Report{}
	studentTables := sortedCopy(student.Tables)
	etalonTables := sortedCopy(etalon.Tables)

	i, j := 0, 0
	for i < len(studentTables) || j < len(etalonTables) {
		switch {
		case j >= len(etalonTables) || (i < len(studentTables) && studentTables[i] < etalonTables[j]):
			report[studentTables[i]] = TableDiff{Status: StatusExtraTable}
			i++
		case i >= len(studentTables) || etalonTables[j] < studentTables[i]:
			report[etalonTables[j]] = TableDiff{Status: StatusMissingTable}
			j++
		default:
			name := etalonTables[j]
			if td, ok := compareTable(name, student, etalon, o); !ok {
				report[name] = td
			}
			i++
			j++
		}
	}
	return report, nil
}

// compareTable reports ok=true when the table matches.
func compareTable(name string, student, etalon *sandbox.Snapshot, o options) (TableDiff, bool) {
	studentCols := student.Schema[name]
	etalonCols := etalon.Schema[name]

	if o.strictSchema {
		missing, extra := columnDelta(studentCols, etalonCols)
		if len(missing) > 0 || len(extra) > 0 {
			return TableDiff{Status: StatusColumnMismatch, MissingColumns: missing, ExtraColumns: extra}, false
		}
	}

	studentRows := student.Rows[name]
	etalonRows := etalon.Rows[name]
	if len(studentRows) != len(etalonRows) {
		sc, ec := len(studentRows), len(etalonRows)
		return TableDiff{Status: StatusRowCountMismatch, StudentCount: &sc, EtalonCount: &ec}, false
	}

	columns := sharedColumns(studentCols, etalonCols)
	if o.ignoreRowOrder && !hasPrimaryKey(studentCols) && !hasPrimaryKey(etalonCols) {
		studentRows = sortRows(studentRows, columns)
		etalonRows = sortRows(etalonRows, columns)
	}

	var diffs []RowDiff
	for idx := range etalonRows {
		var cols []ColumnDiff
		for _, c := range columns {
			sv, ev := studentRows[idx][c], etalonRows[idx][c]
			if !Equal(sv, ev) {
				cols = append(cols, ColumnDiff{Column: c, StudentValue: sv, EtalonValue: ev})
			}
		}
		if len(cols) > 0 {
			diffs = append(diffs, RowDiff{
				RowIndex:    idx,
				Student:     studentRows[idx],
				Etalon:      etalonRows[idx],
				DiffColumns: cols,
			})
		}
	}
	if len(diffs) == 0 {
		return TableDiff{}, true
	}
	return TableDiff{Differences: diffs}, false
}

func validate(side string, s *sandbox.Snapshot) error {
	if s == nil {
		return &Error{Side: side, Reason: "snapshot is nil"}
	}
	listed := make(map[string]struct{}, len(s.Tables))
	for _, t := range s.Tables {
		if _, dup := listed[t]; dup {
			return &Error{Side: side, Table: t, Reason: "listed twice"}
		}
		listed[t] = struct{}{}
		if _, ok := s.Schema[t]; !ok {
			return &Error{Side: side, Table: t, Reason: "no schema"}
		}
	}
	for t, rows := range s.Rows {
		if _, ok := listed[t]; !ok {
			return &Error{Side: side, Table: t, Reason: "rows for a table that is not listed"}
		}
		known := make(map[string]struct{}, len(s.Schema[t]))
		for _, c := range s.Schema[t] {
			known[c.Name] = struct{}{}
		}
		for idx, row := range rows {
			for col := range row {
				if _, ok := known[col]; !ok {
					return &Error{Side: side, Table: t, Reason: fmt.Sprintf("row %d has unknown column %q", idx, col)}
				}
			}
		}
	}
	return nil
}

// sharedColumns returns the columns present in both schemas in etalon order.
func sharedColumns(student, etalon []sandbox.Column) []string {
	inStudent := make(map[string]struct{}, len(student))
	for _, c := range student {
		inStudent[c.Name] = struct{}{}
	}
	out := make([]string, 0, len(etalon))
	for _, c := range etalon {
		if _, ok := inStudent[c.Name]; ok {
			out = append(out, c.Name)
		}
	}
	return out
}

// columnDelta returns etalon columns the student lacks and student columns the
// etalon lacks.
func columnDelta(student, etalon []sandbox.Column) (missing, extra []string) {
	s := make(map[string]struct{}, len(student))
	for _, c := range student {
		s[c.Name] = struct{}{}
	}
	e := make(map[string]struct{}, len(etalon))
	for _, c := range etalon {
		e[c.Name] = struct{}{}
		if _, ok := s[c.Name]; !ok {
			missing = append(missing, c.Name)
		}
	}
	for _, c := range student {
		if _, ok := e[c.Name]; !ok {
			extra = append(extra, c.Name)
		}
	}
	return missing, extra
}

func hasPrimaryKey(cols []sandbox.Column) bool {
	for _, c := range cols {
		if c.PrimaryKey {
			return true
		}
	}
	return false
}

func sortRows(rows []sandbox.Row, columns []string) []sandbox.Row {
	out := make([]sandbox.Row, len(rows))
	copy(out, rows)
	sort.SliceStable(out, func(i, j int) bool {
		for _, c := range columns {
			if cmp := compareValues(out[i][c], out[j][c]); cmp != 0 {
				return cmp < 0
			}
		}
		return false
	})
	return out
}

func sortedCopy(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	sort.Strings(out)
	return out
}
