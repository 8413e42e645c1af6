package scanning

import (
	"strconv"
	"strings"
)

const expectedPortRangeParts = 2

// ParsePorts turns a port list such as "22,80,8000-8010" into port numbers.
// Entries that are not numbers or fall outside 1-65535 are skipped, as are
// malformed or reversed ranges. Duplicates are kept in order.
func ParsePorts(spec string) []int {
	if strings.TrimSpace(spec) == "" {
		return []int{}
	}
	return FilterPorts(strings.Split(spec, ","))
}

// FilterPorts applies the ParsePorts rules to already split entries.
func FilterPorts(entries []string) []int {
	ports := make([]int, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if strings.Contains(entry, "-") {
			ports = append(ports, expandRange(entry)...)
			continue
		}
		if port, ok := parsePort(entry); ok {
			ports = append(ports, port)
		}
	}
	return ports
}

func expandRange(entry string) []int {
	parts := strings.Split(entry, "-")
	if len(parts) != expectedPortRangeParts {
		return nil
	}
	start, ok := parsePort(parts[0])
	if !ok {
		return nil
	}
	end, ok := parsePort(parts[1])
	if !ok || start > end {
		return nil
	}

	ports := make([]int, 0, end-start+1)
	for p := start; p <= end; p++ {
		ports = append(ports, p)
	}
	return ports
}

func parsePort(s string) (int, bool) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || !ValidPort(port) {
		return 0, false
	}
	return port, true
}
