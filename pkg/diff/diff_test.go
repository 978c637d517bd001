package diff

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sqlclassroom-api/pkg/sandbox"
)

var usersSchema = []sandbox.Column{
	{Name: "id", Type: "INTEGER", PrimaryKey: true, PKPosition: 1},
	{Name: "name", Type: "TEXT"},
}

func user(id int64, name string) sandbox.Row {
	return sandbox.Row{"id": sandbox.IntValue(id), "name": sandbox.TextValue(name)}
}

func usersSnapshot(rows ...sandbox.Row) *sandbox.Snapshot {
	return &sandbox.Snapshot{
		Tables: []string{"users"},
		Schema: map[string][]sandbox.Column{"users": usersSchema},
		Rows:   map[string][]sandbox.Row{"users": rows},
	}
}

func TestCompareIdenticalSnapshots(t *testing.T) {
	snap := usersSnapshot(user(1, "John"), user(2, "Jane"))
	report, err := Compare(snap, snap)
	require.NoError(t, err)
	require.True(t, report.Correct())
	require.Empty(t, report)
}

func TestCompareRowCountMismatchSkipsAlignment(t *testing.T) {
	student := usersSnapshot(user(1, "John"), user(2, "Jane"))
	etalon := usersSnapshot(user(1, "Alice"))

	report, err := Compare(student, etalon)
	require.NoError(t, err)
	require.False(t, report.Correct())

	td := report["users"]
	require.Equal(t, StatusRowCountMismatch, td.Status)
	require.Equal(t, 2, *td.StudentCount)
	require.Equal(t, 1, *td.EtalonCount)
	require.Empty(t, td.Differences)
}

func TestCompareReportsDifferingColumns(t *testing.T) {
	student := usersSnapshot(user(1, "Bob"))
	etalon := usersSnapshot(user(1, "Alice"))

	report, err := Compare(student, etalon)
	require.NoError(t, err)
	require.False(t, report.Correct())

	raw, err := json.Marshal(report)
	require.NoError(t, err)
	require.JSONEq(t, `{
		"users": {
			"differences": [{
				"row_index": 0,
				"student": {"id": 1, "name": "Bob"},
				"etalon": {"id": 1, "name": "Alice"},
				"diff_columns": [{"column": "name", "student_value": "Bob", "etalon_value": "Alice"}]
			}]
		}
	}`, string(raw))
}

func TestCompareExtraAndMissingTables(t *testing.T) {
	student := usersSnapshot(user(1, "John"))
	student.Tables = append(student.Tables, "extra")
	student.Schema["extra"] = []sandbox.Column{{Name: "id", Type: "INT"}}

	etalon := usersSnapshot(user(1, "John"))
	etalon.Tables = []string{"audit", "users"}
	etalon.Schema["audit"] = []sandbox.Column{{Name: "id", Type: "INT"}}

	report, err := Compare(student, etalon)
	require.NoError(t, err)
	require.False(t, report.Correct())
	require.Equal(t, Report{
		"extra": {Status: StatusExtraTable},
		"audit": {Status: StatusMissingTable},
	}, report)
	require.Equal(t, []string{"audit", "extra"}, report.Tables())
}

func TestCompareUsesSharedColumnsOnly(t *testing.T) {
	student := usersSnapshot(sandbox.Row{"id": sandbox.IntValue(1), "name": sandbox.TextValue("John"), "age": sandbox.IntValue(30)})
	student.Schema["users"] = append(append([]sandbox.Column{}, usersSchema...), sandbox.Column{Name: "age", Type: "INT"})
	etalon := usersSnapshot(user(1, "John"))

	report, err := Compare(student, etalon)
	require.NoError(t, err)
	require.True(t, report.Correct())

	report, err = Compare(student, etalon, WithStrictSchema())
	require.NoError(t, err)
	require.Equal(t, TableDiff{Status: StatusColumnMismatch, ExtraColumns: []string{"age"}}, report["users"])
	require.False(t, report.Correct())
}

func TestCompareIgnoreRowOrder(t *testing.T) {
	schema := []sandbox.Column{{Name: "v", Type: "TEXT"}}
	mk := func(vals ...string) *sandbox.Snapshot {
		rows := make([]sandbox.Row, 0, len(vals))
		for _, v := range vals {
			rows = append(rows, sandbox.Row{"v": sandbox.TextValue(v)})
		}
		return &sandbox.Snapshot{
			Tables: []string{"log"},
			Schema: map[string][]sandbox.Column{"log": schema},
			Rows:   map[string][]sandbox.Row{"log": rows},
		}
	}

	report, err := Compare(mk("b", "a"), mk("a", "b"))
	require.NoError(t, err)
	require.Len(t, report["log"].Differences, 2)

	report, err = Compare(mk("b", "a"), mk("a", "b"), WithIgnoreRowOrder())
	require.NoError(t, err)
	require.True(t, report.Correct())

	// Tables with a primary key keep key order.
	report, err = Compare(usersSnapshot(user(2, "Jane"), user(1, "John")), usersSnapshot(user(1, "John"), user(2, "Jane")), WithIgnoreRowOrder())
	require.NoError(t, err)
	require.False(t, report.Correct())
}

func TestCompareRejectsMalformedSnapshots(t *testing.T) {
	good := usersSnapshot(user(1, "John"))

	unknownColumn := usersSnapshot(sandbox.Row{"id": sandbox.IntValue(1), "ghost": sandbox.NullValue()})
	_, err := Compare(unknownColumn, good)
	var de *Error
	require.ErrorAs(t, err, &de)
	require.Equal(t, "student", de.Side)

	unlisted := usersSnapshot(user(1, "John"))
	unlisted.Rows["other"] = nil
	_, err = Compare(good, unlisted)
	require.ErrorAs(t, err, &de)
	require.Equal(t, "etalon", de.Side)
	require.Equal(t, "other", de.Table)

	_, err = Compare(nil, good)
	require.ErrorAs(t, err, &de)
}

func TestCompareMissingRowsEntryMeansEmptyTable(t *testing.T) {
	student := usersSnapshot()
	student.Rows = nil
	etalon := usersSnapshot()

	report, err := Compare(student, etalon)
	require.NoError(t, err)
	require.True(t, report.Correct())
}
