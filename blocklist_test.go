package ndns

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSuffixBlocklistMatch(t *testing.T) {
	b := NewSuffixBlocklist([]string{
		"# ads",
		"example.com",
		"",
		"  Ads.Tracker.NET.  ",
	})
	require.Equal(t, 2, b.Len())

	tests := []struct {
		name  string
		match bool
	}{
		{"example.com.", true},
		{"www.example.com.", true},
		{"a.b.example.com.", true},
		{"evilexample.com.", false},
		{"example.com.evil.", false},
		{"com.", false},
		{".", false},
		{"ads.tracker.net.", true},
		{"x.ads.tracker.net.", true},
		{"tracker.net.", false},
		{"badads.tracker.net.", false},
	}
	for _, test := range tests {
		require.Equal(t, test.match, b.Match(test.name), "name: %s", test.name)
	}
}

func TestSuffixBlocklistEmpty(t *testing.T) {
	b := NewSuffixBlocklist(nil)
	require.Equal(t, 0, b.Len())
	require.False(t, b.Match("example.com."))
	require.False(t, b.Match("."))
}

func TestCanonicalName(t *testing.T) {
	require.Equal(t, "www.example.com.", canonicalName("WWW.Example.COM"))
	require.Equal(t, "www.example.com.", canonicalName("www.example.com."))
	require.Equal(t, ".", canonicalName("."))
}

func TestStaticLoader(t *testing.T) {
	rules, err := NewStaticLoader([]string{"example.com", "example.net"}).Load()
	require.NoError(t, err)
	b := NewSuffixBlocklist(rules)
	require.True(t, b.Match("www.example.net."))
}
