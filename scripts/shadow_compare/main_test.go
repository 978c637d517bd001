package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBodiesEqualIgnoresVolatileFields(t *testing.T) {
	a := []byte(`{"correct":true,"details":{},"execution_time":0.12}`)
	b := []byte(`{"details":{},"correct":true,"execution_time":1.5}`)
	require.True(t, bodiesEqual(a, b))

	require.True(t, bodiesEqual([]byte(`{"rows_affected":1.0}`), []byte(`{"rows_affected":1}`)))
	require.False(t, bodiesEqual([]byte(`{"correct":true}`), []byte(`{"correct":false}`)))
	require.False(t, bodiesEqual([]byte(`not json`), []byte(`{}`)))
}

func TestSessionForGroups(t *testing.T) {
	sessions := map[string]string{}
	first := sessionFor(sessions, "rename")
	require.Equal(t, first, sessionFor(sessions, "rename"))
	require.NotEqual(t, first, sessionFor(sessions, ""))
}

func TestCompareTargetSendsBodyAndSession(t *testing.T) {
	var seen []string
	handler := func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		seen = append(seen, r.Header.Get("X-Session-ID")+"|"+body["sql"]+"|"+r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"correct":true,"details":{},"execution_time":0.1}`))
	}
	goSrv := httptest.NewServer(http.HandlerFunc(handler))
	defer goSrv.Close()
	legacySrv := httptest.NewServer(http.HandlerFunc(handler))
	defer legacySrv.Close()

	tgt := target{Method: "post", Path: "tasks/1/submit/", Body: map[string]interface{}{"sql": "SELECT 1"}, Critical: true}
	comp := compareTarget(http.DefaultClient, goSrv.URL, legacySrv.URL+"/", "tok", "sid-1", tgt)

	require.NoError(t, comp.Error)
	require.True(t, comp.StatusMatch)
	require.True(t, comp.BodyMatch)
	require.Equal(t, []string{"sid-1|SELECT 1|Bearer tok", "sid-1|SELECT 1|Bearer tok"}, seen)
}

func TestLoadTargetsAndReport(t *testing.T) {
	file, err := loadTargets(filepath.Join("targets.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, file.Targets)
	require.Equal(t, "rename", file.Targets[2].Session)

	empty := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("targets: []\n"), 0o644))
	_, err = loadTargets(empty)
	require.Error(t, err)

	var out bytes.Buffer
	printReport(&out, []comparison{{Target: target{Name: "preview"}, GoStatus: 200, LegacyStatus: 400, StatusMatch: false, BodyMatch: true}})
	require.True(t, strings.Contains(out.String(), "[DIFF] preview"))
}
