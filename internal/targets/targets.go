// Package targets reads host and port lists from plain text files.
package targets

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/anstrom/portprobe/internal/errors"
	"github.com/anstrom/portprobe/internal/scanning"
)

const commentPrefix = "#"

// ReadLines returns the trimmed, non-empty lines of a file. Lines starting
// with # are comments.
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapScanError(errors.CodeFileNotFound, "input file not found", err).
				WithContext("path", path)
		}
		return nil, errors.WrapScanError(errors.CodeUnknown, "failed to open input file", err).
			WithContext("path", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, commentPrefix) {
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.WrapScanError(errors.CodeUnknown, "failed to read input file", err).
			WithContext("path", path)
	}
	return lines, nil
}

// ReadHosts returns one host per line. Comma separated entries on a line are
// split as well.
func ReadHosts(path string) ([]string, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	return SplitList(strings.Join(lines, ",")), nil
}

// ReadPorts returns the valid ports listed in a file. Lines may hold single
// ports, a-b ranges or comma separated lists; invalid entries are skipped.
func ReadPorts(path string) ([]int, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, err
	}
	return scanning.ParsePorts(strings.Join(lines, ",")), nil
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
