// Package sequencer enumerates rotated CSV log files in chronological order.
// The log rotator embeds the date in each filename, so lexicographic order is
// chronological order and no state needs to be kept between calls.
package sequencer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoLogFiles is returned by First when the directory holds no .csv files.
// This is a startup precondition: an empty log directory means the server is
// not writing CSV logs at all.
var ErrNoLogFiles = errors.New("no csv log files found")

// Next returns the lexicographically-smallest .csv file in dir whose name is
// strictly greater than after. An empty after selects the smallest file
// overall. It returns "" with a nil error when no such file exists yet.
func Next(dir, after string) (string, error) {
	names, err := listCSV(dir)
	if err != nil {
		return "", err
	}
	for _, name := range names {
		if name > after {
			return name, nil
		}
	}
	return "", nil
}

// First returns the oldest .csv file in dir. Unlike Next it treats an empty
// directory as an error, because a fresh start against a directory with no
// logs indicates a misconfigured log path.
func First(dir string) (string, error) {
	names, err := listCSV(dir)
	if err != nil {
		return "", err
	}
	if len(names) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoLogFiles, dir)
	}
	return names[0], nil
}

func listCSV(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read log directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
