package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catalogimport/internal/model"
)

type env struct {
	dir     string
	cfgPath string
	staging string
}

func newEnv(t *testing.T) env {
	t.Helper()
	dir := t.TempDir()
	e := env{dir: dir, cfgPath: filepath.Join(dir, "catalog.json"), staging: filepath.Join(dir, "staging")}
	cfg := fmt.Sprintf(`{
  "job": "catalog_test",
  "storage": {"kind": "sqlite", "db": {"dsn": %q, "auto_create_table": true}},
  "parser": {"kind": "csv", "options": {"comma": ","}},
  "staging": {"dir": %q},
  "runtime": {"workers": 2, "max_attempts": 2, "retry_backoff": "1ms"},
  "log": {"level": "error"}
}`, "file:"+filepath.Join(dir, "catalog.db"), e.staging)
	require.NoError(t, os.WriteFile(e.cfgPath, []byte(cfg), 0o644))
	return e
}

func (e env) write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func (e env) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.cfgPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestIngestThenStatus(t *testing.T) {
	e := newEnv(t)
	src := e.write(t, "products.csv",
		"UNIQUE_KEY,PRODUCT_TITLE,PIECE_PRICE\n"+
			"SKU1,Shirt,10.00\n"+
			",No key,1\n"+
			"SKU1,Shirt V2,11.50\n")

	out, err := e.exec(t, "ingest", src)
	require.NoError(t, err, out)
	assert.Contains(t, out, "completed")
	assert.Contains(t, out, "processed=2 skipped=1 missing_key=1")

	// The staged copy is gone; the source is untouched.
	entries, err := os.ReadDir(e.staging)
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.FileExists(t, src)

	out, err = e.exec(t, "status", "--json")
	require.NoError(t, err, out)
	var jobs []model.UploadJob
	require.NoError(t, json.Unmarshal([]byte(out), &jobs))
	require.Len(t, jobs, 1)
	assert.True(t, strings.HasSuffix(jobs[0].FileName, "_products.csv"), jobs[0].FileName)
	assert.Equal(t, model.StatusCompleted, jobs[0].Status)

	out, err = e.exec(t, "status", jobs[0].ID)
	require.NoError(t, err)
	assert.Contains(t, out, "status:   completed")

	out, err = e.exec(t, "status")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "ID"), out)
	assert.Contains(t, out, jobs[0].ID)
}

func TestStageThenRun(t *testing.T) {
	e := newEnv(t)
	src := e.write(t, "a.csv", "UNIQUE_KEY\nK1\nK2\n")

	out, err := e.exec(t, "stage", src)
	require.NoError(t, err)
	id, _, ok := strings.Cut(strings.TrimSpace(out), "\t")
	require.True(t, ok, out)

	out, err = e.exec(t, "status", id)
	require.NoError(t, err)
	assert.Contains(t, out, "status:   pending")

	out, err = e.exec(t, "run", id)
	require.NoError(t, err, out)
	assert.Contains(t, out, "processed=2 skipped=0")
}

func TestStageRejectsBadFiles(t *testing.T) {
	e := newEnv(t)
	bad := e.write(t, "notes.pdf", "x")

	_, err := e.exec(t, "stage", bad, filepath.Join(e.dir, "missing.csv"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 of 2 files")

	out, err := e.exec(t, "status", "--json")
	require.NoError(t, err)
	assert.Equal(t, "[]", strings.TrimSpace(out))
}

func TestRunUnknownJobFails(t *testing.T) {
	e := newEnv(t)
	out, err := e.exec(t, "run", "no-such-job")
	require.Error(t, err)
	assert.Contains(t, out, "no-such-job")
}

func TestMigrateAndValidate(t *testing.T) {
	e := newEnv(t)
	out, err := e.exec(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "schema ready: sqlite (products, file_uploads)")

	out, err = e.exec(t, "validate")
	require.NoError(t, err)
	assert.Contains(t, out, "configuration is valid")

	bad := e.write(t, "bad.json", `{"storage": {"kind": "sqlite", "db": {"dsn": ""}}, "runtime": {"workers": -1}}`)
	var buf bytes.Buffer
	root := newRootCommand()
	root.SetOut(&buf)
	root.SetArgs([]string{"--config", bad, "validate"})
	err = root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, buf.String(), "storage.db.dsn")
	assert.Contains(t, buf.String(), "runtime.workers")
}
