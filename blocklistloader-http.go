package ndns

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// HTTPLoader reads blocklist rules from a server via HTTP(S).
type HTTPLoader struct {
	url string
}

var _ BlocklistLoader = &HTTPLoader{}

const httpTimeout = 30 * time.Minute

func NewHTTPLoader(url string) *HTTPLoader {
	return &HTTPLoader{url}
}

func (l *HTTPLoader) Load() ([]string, error) {
	log := Log.WithField("url", l.url)
	log.Debug("loading blocklist")

	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch blocklist from %s", l.url)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("got unexpected status code %d from %s", resp.StatusCode, l.url)
	}
	rules, err := readLines(resp.Body)
	if err != nil {
		return nil, err
	}
	log.WithField("rules", len(rules)).Debug("completed loading blocklist")
	return rules, nil
}
