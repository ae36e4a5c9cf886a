package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"kustoingest/internal/engine"
	"kustoingest/internal/journal"
)

// fakeCommander scripts management-command behavior and records every
// command issued.
type fakeCommander struct {
	commands   []string
	failCreate bool
}

func (f *fakeCommander) Mgmt(_ context.Context, database, command string) ([]engine.Row, error) {
	f.commands = append(f.commands, database+"|"+command)
	switch {
	case f.failCreate && (strings.HasPrefix(command, ".create-merge") || strings.HasPrefix(command, ".attach")):
		return nil, errors.New("simulated engine failure")
	case strings.Contains(command, "policy streamingingestion") && strings.HasPrefix(command, ".show"):
		return []engine.Row{{"Policy": `{"IsEnabled": true}`}}, nil
	}
	return nil, nil
}

// fakeStream records the bytes of every chunk at ingest time, since the
// chunk files are deleted before Run returns.
type fakeStream struct {
	database string
	table    string
	chunks   *[]string
	fail     bool
}

func (f *fakeStream) IngestFile(_ context.Context, path string) error {
	if f.fail {
		return errors.New("stream rejected")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	*f.chunks = append(*f.chunks, f.database+"."+f.table+"|"+string(raw))
	return nil
}

type fixture struct {
	cmd        *fakeCommander
	chunks     []string
	streamFail bool
	endpoints  []string
}

func (fx *fixture) connect(endpoint string) (engine.Commander, engine.StreamerFactory, error) {
	fx.endpoints = append(fx.endpoints, endpoint)
	factory := func(database, table string) (engine.StreamIngestor, error) {
		return &fakeStream{database: database, table: table, chunks: &fx.chunks, fail: fx.streamFail}, nil
	}
	return fx.cmd, factory, nil
}

func newTestRunner(fx *fixture) *Runner {
	n := 0
	return &Runner{
		Connect:            fx.connect,
		UploadMaxAttempts:  2,
		UploadInitialDelay: 1,
		newRunID: func() string {
			n++
			return fmt.Sprintf("testrun-%d", n)
		},
	}
}

func writeInput(t *testing.T, dir, name, content string) InputFile {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return InputFile{Path: path, DisplayName: name}
}

func TestRunIngestsCSVEndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeInput(t, dir, "hosts.csv", "name,count\nalpha,1\nbeta,2\n")
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fx := &fixture{cmd: &fakeCommander{}}
	r := newTestRunner(fx)

	res, err := r.Run(context.Background(), Params{Inputs: []InputFile{in}, OutputDir: outDir})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if res.Endpoint != DefaultEndpoint || res.Database != DefaultDatabase {
		t.Errorf("target = %s/%s, want defaults", res.Endpoint, res.Database)
	}
	if len(res.Files) != 1 {
		t.Fatalf("got %d file reports, want 1", len(res.Files))
	}
	rep := res.Files[0]
	if rep.State != StateDone || rep.Err != nil {
		t.Errorf("report = %+v, want StateDone with nil Err", rep)
	}
	if rep.Table != "hosts" {
		t.Errorf("table = %q, want hosts", rep.Table)
	}
	if rep.ChunksTotal != 1 || rep.ChunksFailed != 0 {
		t.Errorf("chunks = %d/%d failed, want 1/0", rep.ChunksTotal, rep.ChunksFailed)
	}

	wantCreate := "Default|.create-merge table hosts ([name]:string, [count]:long)"
	found := false
	for _, c := range fx.cmd.commands {
		if c == wantCreate {
			found = true
		}
	}
	if !found {
		t.Errorf("create command missing, got:\n%s", strings.Join(fx.cmd.commands, "\n"))
	}

	// Header must not be uploaded; it travels as schema, not data.
	if len(fx.chunks) != 1 {
		t.Fatalf("ingested %d chunks, want 1", len(fx.chunks))
	}
	if fx.chunks[0] != "Default.hosts|alpha,1\nbeta,2\n" {
		t.Errorf("ingested chunk = %q", fx.chunks[0])
	}
}

func TestRunRemovesScratchDir(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		failCreate bool
	}{
		{"after success", false},
		{"after provisioning failure", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			in := writeInput(t, dir, "hosts.csv", "name,count\nalpha,1\n")
			outDir := filepath.Join(dir, "out")
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				t.Fatal(err)
			}

			fx := &fixture{cmd: &fakeCommander{failCreate: tt.failCreate}}
			r := newTestRunner(fx)
			if _, err := r.Run(context.Background(), Params{Inputs: []InputFile{in}, OutputDir: outDir}); err != nil {
				t.Fatalf("Run() error: %v", err)
			}

			entries, err := os.ReadDir(outDir)
			if err != nil {
				t.Fatal(err)
			}
			if len(entries) != 0 {
				t.Errorf("output dir not clean after run: %v", entries)
			}
		})
	}
}

func TestRunResolvesTargetPrecedence(t *testing.T) {
	t.Parallel()

	sidecarYAML := "openrelik-kusto-cluster-uri: https://side.example.net\n" +
		"openrelik-kusto-database: sidedb\n"

	tests := []struct {
		name         string
		sidecar      string
		connOverride string
		dbOverride   string
		wantEndpoint string
		wantDatabase string
	}{
		{"defaults", "", "", "", DefaultEndpoint, DefaultDatabase},
		{"sidecar wins over defaults", sidecarYAML, "", "", "https://side.example.net", "sidedb"},
		{"override wins over sidecar", sidecarYAML, "https://over.example.net", "overdb", "https://over.example.net", "overdb"},
		{"malformed sidecar falls back", "::::\n\t-", "", "", DefaultEndpoint, DefaultDatabase},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			inputs := []InputFile{writeInput(t, dir, "hosts.csv", "name\na\n")}
			if tt.sidecar != "" {
				inputs = append(inputs, writeInput(t, dir, ".openrelik-config", tt.sidecar))
			}
			outDir := filepath.Join(dir, "out")
			if err := os.MkdirAll(outDir, 0o755); err != nil {
				t.Fatal(err)
			}

			fx := &fixture{cmd: &fakeCommander{}}
			r := newTestRunner(fx)
			res, err := r.Run(context.Background(), Params{
				Inputs:             inputs,
				OutputDir:          outDir,
				ConnectionOverride: tt.connOverride,
				DatabaseOverride:   tt.dbOverride,
			})
			if err != nil {
				t.Fatalf("Run() error: %v", err)
			}
			if res.Endpoint != tt.wantEndpoint || res.Database != tt.wantDatabase {
				t.Errorf("target = %s/%s, want %s/%s",
					res.Endpoint, res.Database, tt.wantEndpoint, tt.wantDatabase)
			}
			if len(fx.endpoints) != 1 || fx.endpoints[0] != tt.wantEndpoint {
				t.Errorf("connected to %v, want %s", fx.endpoints, tt.wantEndpoint)
			}
		})
	}
}

func TestRunHostnamePrefixesTableName(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := []InputFile{
		writeInput(t, dir, "hosts.csv", "name\na\n"),
		writeInput(t, dir, ".openrelik-config", "hostname: WKS-01\n"),
	}
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fx := &fixture{cmd: &fakeCommander{}}
	r := newTestRunner(fx)
	res, err := r.Run(context.Background(), Params{Inputs: inputs, OutputDir: outDir})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Files) != 1 {
		t.Fatalf("got %d file reports, want 1", len(res.Files))
	}
	if got := res.Files[0].Table; got != "WKS_01_hosts" {
		t.Errorf("table = %q, want WKS_01_hosts", got)
	}
}

func TestRunConfigOnlyInputsDoNothing(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := []InputFile{writeInput(t, dir, ".openrelik-config", "hostname: x\n")}

	fx := &fixture{cmd: &fakeCommander{}}
	r := newTestRunner(fx)
	res, err := r.Run(context.Background(), Params{Inputs: inputs, OutputDir: dir})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Files) != 0 {
		t.Errorf("got %d file reports, want 0", len(res.Files))
	}
	if len(fx.endpoints) != 0 {
		t.Errorf("connected despite no ingestible inputs: %v", fx.endpoints)
	}
}

func TestRunLenientContinuesPastFailedFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := []InputFile{
		writeInput(t, dir, "empty", ""), // zero columns, inference fails
		writeInput(t, dir, "hosts.csv", "name\na\n"),
	}
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fx := &fixture{cmd: &fakeCommander{}}
	r := newTestRunner(fx)
	res, err := r.Run(context.Background(), Params{Inputs: inputs, OutputDir: outDir})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(res.Files) != 2 {
		t.Fatalf("got %d file reports, want 2", len(res.Files))
	}
	if res.Files[0].State != StateFailed || res.Files[0].Err == nil {
		t.Errorf("first report = %+v, want failed", res.Files[0])
	}
	if res.Files[1].State != StateDone {
		t.Errorf("second report = %+v, want done", res.Files[1])
	}
}

func TestRunFailFastAborts(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := []InputFile{
		writeInput(t, dir, "empty", ""),
		writeInput(t, dir, "hosts.csv", "name\na\n"),
	}
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fx := &fixture{cmd: &fakeCommander{}}
	r := newTestRunner(fx)
	res, err := r.Run(context.Background(), Params{Inputs: inputs, OutputDir: outDir, FailFast: true})
	if err == nil {
		t.Fatal("Run() error = nil, want failure")
	}
	if len(res.Files) != 1 {
		t.Errorf("got %d file reports, want 1 (second file must not run)", len(res.Files))
	}

	entries, rdErr := os.ReadDir(outDir)
	if rdErr != nil {
		t.Fatal(rdErr)
	}
	if len(entries) != 0 {
		t.Errorf("output dir not clean after aborted run: %v", entries)
	}
}

func TestRunUploadExhaustionStaysLenient(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeInput(t, dir, "hosts.csv", "name\na\n")
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	fx := &fixture{cmd: &fakeCommander{}, streamFail: true}
	r := newTestRunner(fx)
	res, err := r.Run(context.Background(), Params{Inputs: []InputFile{in}, OutputDir: outDir})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	rep := res.Files[0]
	if rep.State != StateDone || rep.Err != nil {
		t.Errorf("report = %+v, want done with nil Err despite failed chunks", rep)
	}
	if rep.ChunksFailed != rep.ChunksTotal || rep.ChunksTotal == 0 {
		t.Errorf("chunks = %d/%d failed, want all failed", rep.ChunksFailed, rep.ChunksTotal)
	}
}

// recordingJournal captures reports in memory.
type recordingJournal struct {
	reports []journal.FileReport
}

func (j *recordingJournal) EnsureSchema(context.Context) error { return nil }
func (j *recordingJournal) Close()                             {}
func (j *recordingJournal) RecordFile(_ context.Context, r journal.FileReport) error {
	j.reports = append(j.reports, r)
	return nil
}

func TestRunJournalsEveryFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	inputs := []InputFile{
		writeInput(t, dir, "empty", ""),
		writeInput(t, dir, "hosts.csv", "name\na\n"),
	}
	outDir := filepath.Join(dir, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		t.Fatal(err)
	}

	jr := &recordingJournal{}
	fx := &fixture{cmd: &fakeCommander{}}
	r := newTestRunner(fx)
	r.Journal = jr
	if _, err := r.Run(context.Background(), Params{Inputs: inputs, OutputDir: outDir}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if len(jr.reports) != 2 {
		t.Fatalf("journaled %d reports, want 2", len(jr.reports))
	}
	if jr.reports[0].State != string(StateFailed) || jr.reports[0].Error == "" {
		t.Errorf("first journal entry = %+v, want failed with error text", jr.reports[0])
	}
	if jr.reports[1].State != string(StateDone) || jr.reports[1].Table != "hosts" {
		t.Errorf("second journal entry = %+v, want done for table hosts", jr.reports[1])
	}
	if jr.reports[1].RunID == "" || jr.reports[1].Database != DefaultDatabase {
		t.Errorf("journal entry missing run context: %+v", jr.reports[1])
	}
}
