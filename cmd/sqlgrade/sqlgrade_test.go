package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
)

const peopleDump = `CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
INSERT INTO people VALUES (1, 'John'), (2, 'Jane');
`

func writeBundle(t *testing.T, bundle string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "people.sql"), []byte(peopleDump), 0o644))
	path := filepath.Join(dir, "task.yaml")
	require.NoError(t, os.WriteFile(path, []byte(bundle), 0o644))
	return path
}

func runCLI(t *testing.T, args ...string) (map[string]interface{}, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--work-dir", t.TempDir()}, args...))
	err := root.Execute()
	if out.Len() == 0 {
		return nil, err
	}
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(out.Bytes(), &body))
	return body, err
}

const renameBundle = `title: Rename John
original: people.sql
etalon_script: UPDATE people SET name = 'Bob' WHERE id = 1;
`

func TestCheckCorrectSolution(t *testing.T) {
	path := writeBundle(t, renameBundle)

	body, err := runCLI(t, "check", path, "--sql", "UPDATE people SET name = 'Bob' WHERE name = 'John';")
	require.NoError(t, err)
	require.Equal(t, true, body["correct"])
	require.Empty(t, body["details"])
}

func TestCheckIncorrectSolution(t *testing.T) {
	path := writeBundle(t, renameBundle)

	body, err := runCLI(t, "check", path, "--sql", "UPDATE people SET name = 'Alice' WHERE id = 1;")
	require.True(t, errors.Is(err, errIncorrect))
	require.Equal(t, 1, exitCode(err))
	require.Equal(t, false, body["correct"])
	require.Contains(t, body["details"], "people")
}

func TestCheckReportsScriptErrors(t *testing.T) {
	path := writeBundle(t, renameBundle)

	body, err := runCLI(t, "check", path, "--sql", "SELECT 1; SELEC 2;")
	require.True(t, errors.Is(err, errIncorrect))
	require.Equal(t, "syntax_error", body["kind"])
	require.Equal(t, float64(1), body["statement_index"])
}

func TestCheckRestrictions(t *testing.T) {
	path := writeBundle(t, renameBundle+"restrictions: [DELETE]\n")

	body, err := runCLI(t, "check", path, "--sql", "DELETE FROM people WHERE id = 2;")
	require.True(t, errors.Is(err, errIncorrect))
	require.Equal(t, "forbidden_operation", body["kind"])
}

func TestCheckWithEtalonDump(t *testing.T) {
	path := writeBundle(t, "original: people.sql\netalon: bob.sql\n")
	etalon := `CREATE TABLE people (id INTEGER PRIMARY KEY, name TEXT NOT NULL);
INSERT INTO people VALUES (1, 'Bob'), (2, 'Jane');
`
	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "bob.sql"), []byte(etalon), 0o644))

	body, err := runCLI(t, "check", path, "--sql", "UPDATE people SET name = 'Bob' WHERE id = 1;")
	require.NoError(t, err)
	require.Equal(t, true, body["correct"])
}

func TestCheckBrokenReferenceIsNotAStudentError(t *testing.T) {
	path := writeBundle(t, "original: people.sql\netalon_script: UPDATE nowhere SET x = 1;\n")

	_, err := runCLI(t, "check", path, "--sql", "SELECT 1;")
	require.Error(t, err)
	require.False(t, errors.Is(err, errIncorrect))
	require.True(t, errors.Is(err, errReference))
	require.Equal(t, 2, exitCode(err))
}

func TestLoadBundleValidation(t *testing.T) {
	_, err := LoadBundle(writeBundle(t, "original: people.sql\n"))
	require.ErrorContains(t, err, "exactly one of etalon and etalon_script")

	_, err = LoadBundle(writeBundle(t, "etalon: x.sql\n"))
	require.Error(t, err)

	b, err := LoadBundle(writeBundle(t, renameBundle+"ignore_row_order: true\n"))
	require.NoError(t, err)
	require.True(t, b.IgnoreRowOrder)
	dump, err := b.OriginalDump()
	require.NoError(t, err)
	require.Equal(t, peopleDump, string(dump))
}

func TestExecPrintsLastResultSet(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "people.sql")
	require.NoError(t, os.WriteFile(dump, []byte(peopleDump), 0o644))

	body, err := runCLI(t, "exec", dump, "--sql", "UPDATE people SET name = 'Bob' WHERE id = 1; SELECT name FROM people ORDER BY id;")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"name"}, body["columns"])
	require.Equal(t, []interface{}{
		map[string]interface{}{"name": "Bob"},
		map[string]interface{}{"name": "Jane"},
	}, body["results"])
	require.Equal(t, float64(2), body["statements"])
}

func TestSnapshotSchemaOnly(t *testing.T) {
	dir := t.TempDir()
	dump := filepath.Join(dir, "people.sql")
	require.NoError(t, os.WriteFile(dump, []byte(peopleDump), 0o644))

	body, err := runCLI(t, "snapshot", dump, "--schema-only")
	require.NoError(t, err)
	require.Equal(t, []interface{}{"people"}, body["tables"])
	require.NotContains(t, body, "rows")

	body, err = runCLI(t, "snapshot", dump, "--sql", "DELETE FROM people WHERE id = 2;")
	require.NoError(t, err)
	rows := body["rows"].(map[string]interface{})["people"].([]interface{})
	require.Len(t, rows, 1)
}

func TestReadScriptRejectsBothSources(t *testing.T) {
	_, err := readScript("SELECT 1", "script.sql")
	require.Error(t, err)
}
