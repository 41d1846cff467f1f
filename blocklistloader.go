package ndns

import (
	"bufio"
	"io"
)

// BlocklistLoader reads the rules of a blocklist, one per line.
type BlocklistLoader interface {
	// Returns a list of rules that can then be stored into a blocklist.
	Load() ([]string, error)
}

// Reads all lines from r.
func readLines(r io.Reader) ([]string, error) {
	var rules []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		rules = append(rules, scanner.Text())
	}
	return rules, scanner.Err()
}
