package preflight

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/randomizedcoder/go-wavy-control/internal/resolver"
)

// =============================================================================
// Test Helpers
// =============================================================================

// newRoot creates a project root with the named executables under build/.
// Names prefixed with "-" are written without the execute bit.
func newRoot(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	build := filepath.Join(root, "build")
	if err := os.MkdirAll(build, 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range names {
		mode := os.FileMode(0o755)
		if strings.HasPrefix(name, "-") {
			name, mode = name[1:], 0o644
		}
		if err := os.WriteFile(filepath.Join(build, name), []byte("#!/bin/sh\n"), mode); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func findCheck(t *testing.T, r *Result, name string) Check {
	t.Helper()
	for _, c := range r.Checks {
		if c.Name == name {
			return c
		}
	}
	t.Fatalf("no %q check in %+v", name, r.Checks)
	return Check{}
}

// =============================================================================
// Check.String
// =============================================================================

func TestCheck_String(t *testing.T) {
	tests := []struct {
		name  string
		check Check
		want  []string
	}{
		{
			name:  "passed_with_required",
			check: Check{Name: "file_descriptors", Required: 100, Actual: 200, Passed: true},
			want:  []string{"✓", "200", "100"},
		},
		{
			name:  "failed_check",
			check: Check{Name: "file_descriptors", Required: 100, Actual: 50},
			want:  []string{"✗"},
		},
		{
			name:  "warning_check",
			check: Check{Name: "history_dir", Passed: true, Warning: true, Message: "warning message"},
			want:  []string{"⚠", "warning message"},
		},
		{
			name:  "passed_with_message_only",
			check: Check{Name: "project_root", Passed: true, Message: "/src/wavy"},
			want:  []string{"✓", "/src/wavy"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := tt.check.String()
			for _, w := range tt.want {
				if !strings.Contains(s, w) {
					t.Errorf("String() = %q, should contain %q", s, w)
				}
			}
		})
	}
}

// =============================================================================
// RunAll
// =============================================================================

func TestRunAll_AllBinariesPresent(t *testing.T) {
	root := newRoot(t, resolver.Segmenter, resolver.Dispatcher, resolver.Client)
	result := RunAll(Options{Locator: resolver.New(resolver.Options{Root: root})})

	if c := findCheck(t, result, "project_root"); !c.Passed || c.Message != root {
		t.Errorf("project_root = %+v", c)
	}
	for _, name := range []string{resolver.Segmenter, resolver.Dispatcher, resolver.Client} {
		if c := findCheck(t, result, name); !c.Passed {
			t.Errorf("%s check failed: %s", name, c.Message)
		}
	}
}

func TestRunAll_BinaryProblems(t *testing.T) {
	root := newRoot(t, resolver.Segmenter, "-"+resolver.Dispatcher)
	result := RunAll(Options{Locator: resolver.New(resolver.Options{Root: root})})

	if result.Passed {
		t.Error("Result should fail with a missing client and a non-executable dispatcher")
	}
	if c := findCheck(t, result, resolver.Segmenter); !c.Passed {
		t.Errorf("segmenter check failed: %s", c.Message)
	}
	if c := findCheck(t, result, resolver.Dispatcher); c.Passed {
		t.Error("non-executable dispatcher passed")
	}
	if c := findCheck(t, result, resolver.Client); c.Passed {
		t.Error("missing client passed")
	}
}

func TestRunAll_NoProjectRootSkipsBinaries(t *testing.T) {
	loc := resolver.New(resolver.Options{Base: t.TempDir(), Markers: []string{".no-such-marker-here"}})
	result := RunAll(Options{Locator: loc})

	if result.Passed {
		t.Error("Result should fail without a project root")
	}
	if c := findCheck(t, result, "project_root"); c.Passed {
		t.Errorf("project_root = %+v", c)
	}
	for _, c := range result.Checks {
		if c.Name == resolver.Segmenter {
			t.Error("binary checks ran without a project root")
		}
	}
}

func TestRunAll_ResourceChecks(t *testing.T) {
	root := newRoot(t, resolver.Segmenter, resolver.Dispatcher, resolver.Client)
	result := RunAll(Options{Locator: resolver.New(resolver.Options{Root: root})})

	fd := findCheck(t, result, "file_descriptors")
	if !fd.Warning {
		if fd.Actual <= 0 || fd.Required != requiredFiles {
			t.Errorf("file_descriptors = %+v", fd)
		}
		if fd.Passed != (fd.Actual >= fd.Required) {
			t.Errorf("file_descriptors Passed=%v with actual=%d required=%d", fd.Passed, fd.Actual, fd.Required)
		}
	}

	proc := findCheck(t, result, "process_limit")
	if !proc.Warning && proc.Passed != (proc.Actual >= requiredProcesses) {
		t.Errorf("process_limit = %+v", proc)
	}
}

func TestRunAll_OptionalChecks(t *testing.T) {
	root := newRoot(t, resolver.Segmenter, resolver.Dispatcher, resolver.Client)
	loc := resolver.New(resolver.Options{Root: root})

	without := RunAll(Options{Locator: loc})
	for _, c := range without.Checks {
		if c.Name == "history_dir" || c.Name == "metrics_addr" {
			t.Errorf("unexpected %s check", c.Name)
		}
	}

	historyPath := filepath.Join(t.TempDir(), "state", "history.db")
	with := RunAll(Options{Locator: loc, HistoryPath: historyPath, MetricsAddr: "127.0.0.1:0"})
	if c := findCheck(t, with, "history_dir"); !c.Passed || c.Warning {
		t.Errorf("history_dir = %+v", c)
	}
	if c := findCheck(t, with, "metrics_addr"); !c.Passed {
		t.Errorf("metrics_addr = %+v", c)
	}

	entries, err := os.ReadDir(filepath.Dir(historyPath))
	if err != nil || len(entries) != 0 {
		t.Errorf("history dir left with %v (err %v)", entries, err)
	}
}

func TestCheckMetricsAddr_InUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	if c := checkMetricsAddr(ln.Addr().String()); c.Passed {
		t.Errorf("checkMetricsAddr on a bound port passed: %+v", c)
	}
}

// =============================================================================
// Helpers
// =============================================================================

func TestParseProcessLimit(t *testing.T) {
	tests := []struct {
		name   string
		limits string
		want   int
	}{
		{
			name: "numeric",
			limits: "Limit                     Soft Limit           Hard Limit           Units\n" +
				"Max processes             63209                63210                processes\n",
			want: 63209,
		},
		{
			name:   "unlimited",
			limits: "Max processes             unlimited            unlimited            processes\n",
			want:   1000000,
		},
		{name: "missing", limits: "Max open files 1024 4096 files\n", want: 0},
		{name: "garbage", limits: "Max processes lots\n", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseProcessLimit(tt.limits); got != tt.want {
				t.Errorf("parseProcessLimit() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSuggestFix(t *testing.T) {
	testCases := []struct {
		name     string
		expected string
	}{
		{"file_descriptors", "ulimit -n"},
		{"process_limit", "ulimit -u"},
		{"project_root", ".wavy_root"},
		{resolver.Dispatcher, "build"},
		{"metrics_addr", "--metrics"},
		{"unknown", "documentation"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			fix := suggestFix(tc.name)
			if !strings.Contains(fix, tc.expected) {
				t.Errorf("suggestFix(%q) = %q, should contain %q", tc.name, fix, tc.expected)
			}
		})
	}
}

func TestPrintResults(t *testing.T) {
	result := &Result{
		Checks: []Check{
			{Name: "project_root", Passed: true, Message: "/src/wavy"},
			{Name: "file_descriptors", Passed: false, Required: 256, Actual: 64},
		},
		Passed: false,
	}

	var buf bytes.Buffer
	PrintResults(&buf, result)
	out := buf.String()

	for _, want := range []string{"Preflight checks:", "/src/wavy", "64 available (need 256)", "Fix: ulimit -n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "Fix:") != 1 {
		t.Errorf("expected one fix line:\n%s", out)
	}
}
