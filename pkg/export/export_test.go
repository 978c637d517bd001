package export

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Task submissions",
		Headers: []string{"user", "query", "correct"},
		Rows: []map[string]string{
			{"user": "u-1", "query": "UPDATE users\nSET name = 'Jane'\nWHERE id = 2;", "correct": "true"},
			{"user": "u-2", "query": "SELECT 1", "correct": "false"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, []string{"user", "query", "correct"}, records[0])
	require.Equal(t, "UPDATE users\nSET name = 'Jane'\nWHERE id = 2;", records[1][1])
	require.Equal(t, "false", records[2][2])
}

func TestExportersRequireHeaders(t *testing.T) {
	_, err := NewCSVExporter().Render(Dataset{})
	require.Error(t, err)
	_, err = NewPDFExporter().Render(Dataset{})
	require.Error(t, err)
}

func TestPDFExporterRender(t *testing.T) {
	data := sampleDataset()
	for i := 0; i < 60; i++ {
		data.Rows = append(data.Rows, map[string]string{"user": "u", "query": "SELECT * FROM users", "correct": "true"})
	}
	out, err := NewPDFExporter().Render(data)
	require.NoError(t, err)
	require.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestForFormat(t *testing.T) {
	e, err := ForFormat("pdf")
	require.NoError(t, err)
	require.Equal(t, "application/pdf", e.ContentType())

	e, err = ForFormat("")
	require.NoError(t, err)
	require.Equal(t, "csv", e.Extension())

	_, err = ForFormat("xlsx")
	require.Error(t, err)
}

func TestCellTextFlattensAndShortens(t *testing.T) {
	require.Equal(t, "a b", cellText("a\n  b"))
	long := cellText(string(bytes.Repeat([]byte("x"), 100)))
	require.Len(t, long, pdfMaxCell)
}
