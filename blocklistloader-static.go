package ndns

// StaticLoader holds a fixed ruleset in memory.
type StaticLoader struct {
	rules []string
}

var _ BlocklistLoader = &StaticLoader{}

func NewStaticLoader(rules []string) *StaticLoader {
	return &StaticLoader{rules}
}

func (l *StaticLoader) Load() ([]string, error) {
	return l.rules, nil
}
