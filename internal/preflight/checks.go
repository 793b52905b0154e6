// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/randomizedcoder/go-wavy-control/internal/process"
	"github.com/randomizedcoder/go-wavy-control/internal/resolver"
)

// A stream run holds three processes with two pipes each, the watcher,
// the history database and the metrics listener.
const (
	requiredFiles     = 256
	requiredProcesses = 16
)

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

// Locator finds the project root and the executables under it.
// *resolver.Resolver implements it.
type Locator interface {
	Root() (string, error)
	Resolve(name string) (string, error)
}

// Options selects what RunAll inspects.
type Options struct {
	Locator Locator

	// Binaries defaults to the segmenter, dispatcher and client.
	Binaries []string

	// HistoryPath and MetricsAddr are skipped when empty.
	HistoryPath string
	MetricsAddr string
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	if len(opts.Binaries) == 0 {
		opts.Binaries = []string{resolver.Segmenter, resolver.Dispatcher, resolver.Client}
	}

	result := &Result{Passed: true}
	add := func(c Check) {
		result.Checks = append(result.Checks, c)
		if !c.Passed {
			result.Passed = false
		}
	}

	root := checkProjectRoot(opts.Locator)
	add(root)
	if root.Passed {
		for _, name := range opts.Binaries {
			add(checkBinary(opts.Locator, name))
		}
	}

	add(checkFileDescriptors())
	add(checkProcessLimit())

	if opts.HistoryPath != "" {
		add(checkHistoryDir(opts.HistoryPath))
	}
	if opts.MetricsAddr != "" {
		add(checkMetricsAddr(opts.MetricsAddr))
	}
	return result
}

func checkProjectRoot(l Locator) Check {
	root, err := l.Root()
	if err != nil {
		return Check{Name: "project_root", Passed: false, Message: err.Error()}
	}
	return Check{Name: "project_root", Passed: true, Message: root}
}

// checkBinary verifies the executable exists and has an execute bit.
func checkBinary(l Locator, name string) Check {
	path, err := l.Resolve(name)
	if err == nil {
		err = process.CheckExecutable(path)
	}
	if err != nil {
		return Check{Name: name, Passed: false, Message: err.Error()}
	}
	return Check{Name: name, Passed: true, Message: path}
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors() Check {
	var limit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &limit); err != nil {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	actual := clampInt(limit.Cur)
	return Check{
		Name:     "file_descriptors",
		Required: requiredFiles,
		Actual:   actual,
		Passed:   actual >= requiredFiles,
		Message:  fmt.Sprintf("ulimit -n %d (need %d)", actual, requiredFiles),
	}
}

// checkProcessLimit reads the soft process limit. Unix does not export
// RLIMIT_NPROC on every platform, so /proc/self/limits is parsed instead.
func checkProcessLimit() Check {
	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseProcessLimit(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: requiredProcesses,
		Actual:   actual,
		Passed:   actual >= requiredProcesses,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, requiredProcesses),
	}
}

// parseProcessLimit extracts the soft limit from the "Max processes" line.
// It returns 0 when the line is missing or malformed.
func parseProcessLimit(limits string) int {
	for _, line := range strings.Split(limits, "\n") {
		if !strings.HasPrefix(line, "Max processes") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 4 {
			return 0
		}
		if fields[2] == "unlimited" {
			return 1000000
		}
		var n int
		if _, err := fmt.Sscanf(fields[2], "%d", &n); err != nil {
			return 0
		}
		return n
	}
	return 0
}

// checkHistoryDir warns when the history database cannot be created.
func checkHistoryDir(path string) Check {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Check{Name: "history_dir", Passed: true, Warning: true, Message: err.Error()}
	}
	f, err := os.CreateTemp(dir, ".wavyctl-preflight-*")
	if err != nil {
		return Check{Name: "history_dir", Passed: true, Warning: true, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return Check{Name: "history_dir", Passed: true, Message: dir}
}

// checkMetricsAddr verifies the metrics listener can bind.
func checkMetricsAddr(addr string) Check {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: "metrics_addr", Passed: false, Message: err.Error()}
	}
	_ = ln.Close()
	return Check{Name: "metrics_addr", Passed: true, Message: addr + " is free"}
}

func clampInt(v uint64) int {
	const maxInt = int(^uint(0) >> 1)
	if v > uint64(maxInt) {
		return maxInt
	}
	return int(v)
}

// PrintResults writes the preflight check results to w.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "project_root":
		return "run from inside the wavy checkout, create a .wavy_root marker, or pass --project-root"
	case resolver.Segmenter, resolver.Dispatcher, resolver.Client:
		return "build the wavy executables into the build directory (make)"
	case "file_descriptors":
		return "ulimit -n 1024 (or edit /etc/security/limits.conf)"
	case "process_limit":
		return "ulimit -u 256 (or edit /etc/security/limits.conf)"
	case "metrics_addr":
		return "choose another --metrics address or stop the process holding it"
	default:
		return "see documentation"
	}
}
