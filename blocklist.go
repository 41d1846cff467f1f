package ndns

import (
	"strings"

	"github.com/miekg/dns"
)

// Matcher decides if a name is covered by static policy.
type Matcher interface {
	Match(name string) bool
}

// SuffixBlocklist is an immutable set of domain suffixes. A name matches when it
// ends with one of the suffixes on a label boundary, so "example.com." blocks
// "example.com." and "www.example.com." but not "evilexample.com.".
type SuffixBlocklist struct {
	suffixes map[string]struct{}
}

var _ Matcher = &SuffixBlocklist{}

// NewSuffixBlocklist builds a blocklist from a list of rules, typically lines read
// by a BlocklistLoader. Blank lines and lines starting with # are ignored.
func NewSuffixBlocklist(rules []string) *SuffixBlocklist {
	suffixes := make(map[string]struct{}, len(rules))
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		suffixes[canonicalName(r)] = struct{}{}
	}
	return &SuffixBlocklist{suffixes: suffixes}
}

// Match returns true if the name, or any parent of it, is in the list. The name
// is expected to be in canonical form.
func (b *SuffixBlocklist) Match(name string) bool {
	if _, ok := b.suffixes[name]; ok {
		return true
	}
	// Every suffix that starts right after a '.' is a candidate. The last dot
	// terminates the name and doesn't start a label.
	for i := 0; i < len(name)-1; i++ {
		if name[i] != '.' {
			continue
		}
		if _, ok := b.suffixes[name[i+1:]]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of distinct suffixes in the list.
func (b *SuffixBlocklist) Len() int {
	return len(b.suffixes)
}

func (b *SuffixBlocklist) String() string {
	return "SuffixBlocklist"
}

// Returns the lowercase, fully-qualified form of a name.
func canonicalName(name string) string {
	return strings.ToLower(dns.Fqdn(name))
}
