package ndns

// Classifier decides if a query name is blocked. Decisions are memoized in a
// DecisionCache, so the blocklist is only consulted the first time a name is seen.
type Classifier struct {
	blocklist Matcher
	cache     DecisionCache
	metrics   *ClassifierMetrics
}

// NewClassifier returns a classifier using the given blocklist and cache. The cache
// is owned by the classifier from then on.
func NewClassifier(blocklist Matcher, cache DecisionCache) *Classifier {
	return &Classifier{
		blocklist: blocklist,
		cache:     cache,
		metrics:   NewClassifierMetrics(),
	}
}

// IsBlocked returns true if the name is blocked by the blocklist.
func (c *Classifier) IsBlocked(name string) bool {
	name = canonicalName(name)

	if blocked, ok := c.cache.Lookup(name); ok {
		c.metrics.cache.WithLabelValues("hit").Inc()
		c.metrics.count(blocked)
		return blocked
	}
	c.metrics.cache.WithLabelValues("miss").Inc()

	// Concurrent lookups of the same new name may both get here. Both arrive at
	// the same decision and storing it twice is harmless.
	blocked := c.blocklist.Match(name)
	if c.cache.Store(name, blocked) && blocked {
		Log.WithField("qname", name).Info("added to cached blocklist")
	}
	c.metrics.count(blocked)
	return blocked
}
