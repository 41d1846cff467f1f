package ndns

import (
	"errors"
	"fmt"

	"github.com/miekg/dns"
)

// ErrUpstreamClosed is returned by Upstream.Run when the connection to the upstream
// resolver is gone for good.
var ErrUpstreamClosed = errors.New("upstream connection closed")

// QueryTimeoutError is returned when a query times out.
type QueryTimeoutError struct {
	query *dns.Msg
}

func (e QueryTimeoutError) Error() string {
	return fmt.Sprintf("query for '%s' timed out", qName(e.query))
}

// UnexpectedAnswerError is returned when an upstream answers a different question
// than the one that was asked.
type UnexpectedAnswerError struct {
	Query, Answer dns.Question
}

func (e UnexpectedAnswerError) Error() string {
	return fmt.Sprintf("expected answer for %s, got %s", e.Query.String(), e.Answer.String())
}
