// Command shadow_compare replays evaluation requests against the legacy
// classroom backend and this API and reports responses that disagree.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/noah-isme/sqlclassroom-api/pkg/config"
	"github.com/noah-isme/sqlclassroom-api/pkg/logger"
)

// volatileFields differ between runs and are dropped before comparing bodies.
var volatileFields = []string{"execution_time", "execution_time_ms", "submitted_at", "id"}

type target struct {
	Name     string      `yaml:"name"`
	Method   string      `yaml:"method"`
	Path     string      `yaml:"path"`
	Body     interface{} `yaml:"body"`
	Critical bool        `yaml:"critical"`
	// Session groups targets that must share a session, e.g. execute then an
	// empty submit.
	Session string `yaml:"session"`
}

type targetFile struct {
	Token   string   `yaml:"token"`
	Targets []target `yaml:"targets"`
}

type comparison struct {
	Target         target
	LegacyStatus   int
	GoStatus       int
	StatusMatch    bool
	BodyMatch      bool
	Error          error
	DurationGo     time.Duration
	DurationLegacy time.Duration
}

func main() {
	var (
		goBase      string
		legacyBase  string
		targetsPath string
		timeout     time.Duration
		logLevel    string
	)

	pflag.StringVar(&goBase, "go-base", "http://localhost:8080/api", "Go API base URL")
	pflag.StringVar(&legacyBase, "legacy-base", "http://localhost:8000/api", "Legacy API base URL")
	pflag.StringVar(&targetsPath, "targets", filepath.Join("scripts", "shadow_compare", "targets.yaml"), "Path to YAML targets file")
	pflag.DurationVar(&timeout, "timeout", 15*time.Second, "HTTP client timeout")
	pflag.StringVar(&logLevel, "log-level", "info", "log level")
	pflag.Parse()

	logr, err := logger.Build(config.EnvDevelopment, config.LogConfig{Level: logLevel, Format: "console"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(2)
	}
	defer logr.Sync() //nolint:errcheck

	file, err := loadTargets(targetsPath)
	if err != nil {
		logr.Fatal("failed to load targets", zap.String("path", targetsPath), zap.Error(err))
	}

	client := &http.Client{Timeout: timeout}
	sessions := map[string]string{}
	var (
		comparisons  []comparison
		breaking     int
		optionalDiff int
	)

	for _, t := range file.Targets {
		sid := sessionFor(sessions, t.Session)
		comp := compareTarget(client, goBase, legacyBase, file.Token, sid, t)
		if comp.Error != nil {
			logr.Warn("target failed", zap.String("target", t.label()), zap.Error(comp.Error))
			if t.Critical {
				breaking++
			}
		} else if !comp.StatusMatch || !comp.BodyMatch {
			if t.Critical {
				breaking++
			} else {
				optionalDiff++
			}
		}
		comparisons = append(comparisons, comp)
	}

	printReport(os.Stdout, comparisons)

	logr.Info("shadow compare finished", zap.Int("breaking", breaking), zap.Int("optional", optionalDiff))
	if breaking > 0 {
		os.Exit(1)
	}
}

func (t target) label() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Method + " " + t.Path
}

func loadTargets(path string) (*targetFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file targetFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(file.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return &file, nil
}

// sessionFor returns a stable session id per named group. Ungrouped targets
// get a fresh id.
func sessionFor(sessions map[string]string, group string) string {
	if group == "" {
		return uuid.NewString()
	}
	if sid, ok := sessions[group]; ok {
		return sid
	}
	sid := uuid.NewString()
	sessions[group] = sid
	return sid
}

func compareTarget(client *http.Client, goBase, legacyBase, token, sessionID string, tgt target) comparison {
	comp := comparison{Target: tgt}

	goStatus, goBody, goDur, err := performRequest(client, goBase, token, sessionID, tgt)
	if err != nil {
		comp.Error = fmt.Errorf("go request failed: %w", err)
		return comp
	}
	legacyStatus, legacyBody, legacyDur, err := performRequest(client, legacyBase, token, sessionID, tgt)
	if err != nil {
		comp.Error = fmt.Errorf("legacy request failed: %w", err)
		return comp
	}

	comp.GoStatus, comp.LegacyStatus = goStatus, legacyStatus
	comp.DurationGo, comp.DurationLegacy = goDur, legacyDur
	comp.StatusMatch = goStatus == legacyStatus
	comp.BodyMatch = bodiesEqual(goBody, legacyBody)
	return comp
}

func performRequest(client *http.Client, base, token, sessionID string, tgt target) (int, []byte, time.Duration, error) {
	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = http.MethodGet
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := strings.TrimRight(base, "/") + path

	var body io.Reader
	if tgt.Body != nil {
		payload, err := json.Marshal(tgt.Body)
		if err != nil {
			return 0, nil, 0, fmt.Errorf("encode body: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return 0, nil, 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("X-Session-ID", sessionID)
	req.AddCookie(&http.Cookie{Name: "sessionid", Value: sessionID})

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, data, time.Since(start), nil
}

func bodiesEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for _, field := range volatileFields {
			delete(val, field)
		}
		for k, v2 := range val {
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func printReport(w io.Writer, results []comparison) {
	fmt.Fprintln(w, "Shadow Compare Report")
	fmt.Fprintln(w, "======================")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.StatusMatch || !res.BodyMatch {
			status = "DIFF"
		}
		fmt.Fprintf(w, "[%s] %s\n", status, res.Target.label())
		fmt.Fprintf(w, "  Go Status: %d (%s)\n", res.GoStatus, res.DurationGo)
		fmt.Fprintf(w, "  Legacy Status: %d (%s)\n", res.LegacyStatus, res.DurationLegacy)
		if res.Error != nil {
			fmt.Fprintf(w, "  Error: %v\n", res.Error)
		} else {
			fmt.Fprintf(w, "  Status match: %t | Body match: %t | Critical: %t\n", res.StatusMatch, res.BodyMatch, res.Target.Critical)
		}
	}
}
