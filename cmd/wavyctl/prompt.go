package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/randomizedcoder/go-wavy-control/internal/config"
)

// confirmClear asks before the contents of dir are deleted. Anything but
// an explicit yes declines.
func confirmClear(in io.Reader, out io.Writer, dir string) (bool, error) {
	fmt.Fprintf(out, "Warning: %s is not empty. All contents will be deleted.\nDo you want to proceed? [y/N] ", dir)

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(out)
			return false, nil
		}
		return false, fmt.Errorf("read confirmation: %w", err)
	}

	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// needsClear reports whether dir exists and has contents. Validation
// errors are left for the request itself to report.
func needsClear(dir string) bool {
	empty, err := config.ValidateOutputDir(dir)
	return err == nil && !empty
}

// resolveClear decides whether a non-empty dir may be cleared: --yes
// wins, an interactive stdin is asked, anything else declines.
func resolveClear(yes bool, in io.Reader, out io.Writer, dir string) (bool, error) {
	if yes || !needsClear(dir) {
		return yes, nil
	}
	if !isTerminal(in) {
		fmt.Fprintf(out, "%s is not empty; pass --yes to delete its contents\n", dir)
		return false, nil
	}
	return confirmClear(in, out, dir)
}
