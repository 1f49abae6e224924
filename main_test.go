package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTestFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func block(kind string, lines ...string) string {
	return "```" + kind + "\n" + strings.Join(lines, "\n") + "\n```\n\n"
}

func createSampleRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeTestFile(t, dir, "reqs.md", "# Requirements\n\n"+
		block("item", "id: REQ-1", "caption: Boot time", "status: approved", "validated_by: TST-1")+
		block("item", "id: REQ-2", "caption: Shutdown"))
	writeTestFile(t, dir, "tests/boot.md", block("item", "id: TST-1", "caption: Measure boot"))
	return dir
}

func TestRunBasic(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"--no-cache", dir}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}

	out := stdout.String()
	if !strings.HasPrefix(out, "root: "+filepath.Base(dir)+"\n") {
		t.Errorf("missing root: header, got:\n%s", out)
	}
	if !strings.Contains(out, "documents: 2") {
		t.Errorf("expected 2 documents, got:\n%s", out)
	}
	if !strings.Contains(out, "items[3]{id,caption,document,line,attributes}:") {
		t.Errorf("expected 3 items, got:\n%s", out)
	}
	if !strings.Contains(out, "  REQ-1,Boot time,reqs.md,3,status=approved") {
		t.Errorf("missing REQ-1 row:\n%s", out)
	}
	if !strings.Contains(out, "  REQ-1,validated_by,TST-1") {
		t.Errorf("missing relation row:\n%s", out)
	}
	if strings.Contains(out, "problems[") {
		t.Errorf("unexpected problems:\n%s", out)
	}
}

func TestRunVersion(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	err := run([]string{"--version"}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if stdout.String() != "traceguide dev\n" {
		t.Errorf("version output: %q", stdout.String())
	}
}

func TestRunNoDocuments(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "readme.txt", "nothing here")

	var stdout, stderr bytes.Buffer
	err := run([]string{"--no-cache", dir}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected error for no documents")
	}
	if !strings.Contains(err.Error(), "no documents found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunNotADirectory(t *testing.T) {
	t.Parallel()
	f := filepath.Join(t.TempDir(), "file.md")
	if err := os.WriteFile(f, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	var stdout, stderr bytes.Buffer
	err := run([]string{"--no-cache", f}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected error for non-directory")
	}
}

func TestRunWarnings(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "reqs.md", block("item", "id: REQ-1", "colour: red"))

	var stdout, stderr bytes.Buffer
	err := run([]string{"--no-cache", dir}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stderr.String(), `unknown option \"colour\"`) {
		t.Errorf("expected unknown option warning, got:\n%s", stderr.String())
	}
	if !strings.Contains(stderr.String(), "document=reqs.md") {
		t.Errorf("warning should name the document, got:\n%s", stderr.String())
	}
}

func TestRunProblems(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "reqs.md", block("item", "id: REQ-1", "depends_on: GHOST"))

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-cache", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stdout.String(), "problems[1]{message}:") {
		t.Errorf("expected problems table, got:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "GHOST") {
		t.Errorf("problem should be logged, got:\n%s", stderr.String())
	}

	err := run([]string{"--no-cache", "--strict", dir}, &stdout, &stderr)
	if err == nil {
		t.Fatal("--strict should fail on problems")
	}
	if !strings.Contains(err.Error(), "1 consistency problem") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestRunConfigFlag(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "tree.md", block("item", "id: A", "parent: B")+block("item", "id: B"))
	cfg := filepath.Join(t.TempDir(), "custom.yaml")
	writeTestFile(t, filepath.Dir(cfg), "custom.yaml", "relations:\n  - forward: parent\n    reverse: child\n")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-cache", "--config", cfg, dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}
	if !strings.Contains(stdout.String(), "  A,parent,B") {
		t.Errorf("missing custom relation:\n%s", stdout.String())
	}

	err := run([]string{"--no-cache", "--config", filepath.Join(dir, "missing.yaml"), dir}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected error for a missing explicit config")
	}
}

func TestRunRootConfig(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "traceguide.yaml", "relations:\n  - forward: parent\n    reverse: child\nbogus: 1\n")
	writeTestFile(t, dir, "tree.md", block("item", "id: A"))

	var stdout, stderr bytes.Buffer
	err := run([]string{"--no-cache", dir}, &stdout, &stderr)
	if err == nil {
		t.Fatal("expected error for unknown config key")
	}
}

func TestRunLogFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	writeTestFile(t, dir, "reqs.md", block("item", "id: REQ-1", "colour: red"))

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-cache", "--log-format", "json", dir}, &stdout, &stderr); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(stderr.String(), `"level":"warning"`) {
		t.Errorf("expected JSON log lines, got:\n%s", stderr.String())
	}

	if err := run([]string{"--log-format", "xml", dir}, &stdout, &stderr); err == nil {
		t.Error("expected error for invalid log format")
	}
	if err := run([]string{"--log-level", "loud", dir}, &stdout, &stderr); err == nil {
		t.Error("expected error for invalid log level")
	}
}

func TestRunCache(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	var stdout1, stderr1 bytes.Buffer
	if err := run([]string{"--log-level", "info", dir}, &stdout1, &stderr1); err != nil {
		t.Fatalf("first run: %v\nstderr: %s", err, stderr1.String())
	}
	if _, err := os.Stat(filepath.Join(dir, ".traceguide-cache")); err != nil {
		t.Fatalf("cache not created: %v", err)
	}

	var stdout2, stderr2 bytes.Buffer
	if err := run([]string{"--log-level", "info", dir}, &stdout2, &stderr2); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if stdout1.String() != stdout2.String() {
		t.Errorf("cache mismatch:\nfirst:\n%s\nsecond:\n%s", stdout1.String(), stdout2.String())
	}
	if !strings.Contains(stderr2.String(), "cached=2") {
		t.Errorf("second run should load from the cache, got:\n%s", stderr2.String())
	}
}

func TestRunExportSince(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)
	exported := filepath.Join(t.TempDir(), "items.json")

	var stdout, stderr bytes.Buffer
	if err := run([]string{"--no-cache", "--export", exported, dir}, &stdout, &stderr); err != nil {
		t.Fatalf("export run: %v", err)
	}
	data, err := os.ReadFile(exported)
	if err != nil {
		t.Fatalf("export not written: %v", err)
	}
	if !strings.Contains(string(data), `"content-hash"`) {
		t.Errorf("unexpected export:\n%s", data)
	}

	writeTestFile(t, dir, "tests/boot.md", block("item", "id: TST-1", "content: Cold boot only.")+block("item", "id: TST-2"))
	stdout.Reset()
	if err := run([]string{"--no-cache", "--since", exported, dir}, &stdout, &stderr); err != nil {
		t.Fatalf("since run: %v", err)
	}
	out := stdout.String()
	if !strings.Contains(out, "changes[2]{id,change}:") {
		t.Errorf("expected 2 changes, got:\n%s", out)
	}
	if !strings.Contains(out, "  TST-2,added") || !strings.Contains(out, "  TST-1,changed") {
		t.Errorf("unexpected changes:\n%s", out)
	}
}

func TestRunMatrix(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	var stdout, stderr bytes.Buffer
	err := run([]string{"matrix", "--no-cache", "--stats", "--source", "^REQ", "--target", "^TST", "--type", "validated_by", dir}, &stdout, &stderr)
	if err != nil {
		t.Fatalf("run: %v\nstderr: %s", err, stderr.String())
	}

	out := stdout.String()
	for _, want := range []string{
		"rows[2]{source,target1,covered}:",
		"  REQ-1,TST-1,yes",
		`  REQ-2,"",no`,
		"percentage: 50",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("matrix output missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(stderr.String(), "Statistics: 1 out of 2 covered: 50%") {
		t.Errorf("missing statistics line, got:\n%s", stderr.String())
	}
}

func TestRunMatrixErrors(t *testing.T) {
	t.Parallel()
	dir := createSampleRepo(t)

	tests := []struct {
		name string
		args []string
	}{
		{"no target", []string{"matrix", "--source", "^REQ"}},
		{"unknown relation", []string{"matrix", "--target", "^TST", "--type", "tested_by"}},
		{"bad group", []string{"matrix", "--target", "^TST", "--group", "middle"}},
		{"bad filter", []string{"matrix", "--target", "^TST", "--filter", "status"}},
		{"intermediate without via", []string{"matrix", "--target", "^TST", "--intermediate", "^TST", "--type", "validated_by"}},
		{"via without intermediate", []string{"matrix", "--target", "^TST", "--via", "validated_by"}},
		{"unknown via relation", []string{"matrix", "--target", "^TST", "--intermediate", "^TST", "--type", "validated_by", "--via", "tested_by"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			args := append(append([]string{}, tt.args...), "--no-cache", dir)
			if err := run(args, &stdout, &stderr); err == nil {
				t.Errorf("expected an error for %v", tt.args)
			}
		})
	}
}
