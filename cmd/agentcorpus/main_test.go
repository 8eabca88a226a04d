package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"goa.design/agentcorpus/runtime/corpus/validate"
)

func TestNormalizeThenValidate(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "raw.jsonl")
	out := filepath.Join(dir, "data", "agent_training_data.jsonl")
	logFile := filepath.Join(dir, "data", "dataset_processing.log")
	raw := strings.Join([]string{
		`{"instruction":"Check balance of 0xABC","output":"Balance is 1.5 ETH"}`,
		`{}`,
		`{"text":"Bitcoin breaks a new high"}`,
		`{"question":"Should I swap?","answer":"Maybe later."}`,
	}, "\n")
	require.NoError(t, os.WriteFile(in, []byte(raw), 0o600))

	ctx := context.Background()
	require.NoError(t, runNormalize(ctx, []string{
		"-in", in, "-out", out, "-preset", "metaphysics", "-seed", "42", "-workers", "2", "-log-file", logFile,
	}))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, 3, strings.Count(string(data), "\n"))

	logs, err := os.ReadFile(logFile)
	require.NoError(t, err)
	require.Contains(t, string(logs), "normalization completed")

	f, err := os.Open(out)
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	rep, err := validate.New(validate.WithStrict()).Run(ctx, f)
	require.NoError(t, err)
	require.Equal(t, 3, rep.Total)
	require.Empty(t, rep.Errors)

	require.NoError(t, runValidate(ctx, []string{"-in", out, "-strict"}))
}

func TestNormalizeFromSQLite(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "raw.db")
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE alpaca (instruction TEXT, input TEXT, output TEXT)`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO alpaca VALUES ('Check balance of 0xABC', '', 'Balance is 1.5 ETH'), ('', '', '')`)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	out := filepath.Join(dir, "out.jsonl")
	require.NoError(t, runNormalize(context.Background(), []string{
		"-db-driver", "sqlite", "-db-dsn", dsn, "-db-query", "SELECT instruction, input, output FROM alpaca",
		"-out", out, "-seed", "1",
	}))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	require.Equal(t, 1, strings.Count(string(data), "\n"))
	require.Contains(t, string(data), `"content":"Check balance of 0xABC"`)
}

func TestNormalizeRequiresQuery(t *testing.T) {
	err := runNormalize(context.Background(), []string{"-db-driver", "sqlite", "-db-dsn", "x.db", "-out", filepath.Join(t.TempDir(), "o.jsonl")})
	require.ErrorContains(t, err, "-db-query")
}

func TestNormalizeRejectsUnknownPreset(t *testing.T) {
	dir := t.TempDir()
	err := runNormalize(context.Background(), []string{
		"-in", filepath.Join(dir, "missing.jsonl"), "-out", filepath.Join(dir, "out.jsonl"), "-preset", "nope",
	})
	require.ErrorContains(t, err, `unknown preset "nope"`)
}

func TestValidateMissingFile(t *testing.T) {
	err := runValidate(context.Background(), []string{"-in", filepath.Join(t.TempDir(), "missing.jsonl")})
	require.ErrorContains(t, err, "open input")
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("CORPUS_WORKERS", "3")
	t.Setenv("CORPUS_SEED", "not-a-number")
	require.Equal(t, 3, envInt("CORPUS_WORKERS", 1))
	require.Equal(t, uint64(7), envUint("CORPUS_SEED", 7))
	require.Equal(t, 9, envInt("CORPUS_UNSET_FOR_TEST", 9))
}

func TestValidateFailFlag(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(`{"conversations":[{"role":"bogus","content":"x"}],"tools":"[]","system":"s"}`+"\n"), 0o600))
	require.NoError(t, runValidate(context.Background(), []string{"-in", path}))
	require.ErrorContains(t, runValidate(context.Background(), []string{"-in", path, "-fail"}), "1 of 1 lines failed validation")
}
