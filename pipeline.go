package ndns

import (
	"context"
	"errors"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/miekg/dns"
	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pipeline is a DNS client that sends all queries over a single connected socket
// and matches responses to queries by ID, so queries don't wait for each other.
// Run drives the connection. Once Run returns the pipeline can't be used anymore.
type Pipeline struct {
	addr     string
	conn     *dns.Conn
	timeout  time.Duration
	requests chan *request
	inFlight inFlightQueue
	done     chan struct{}
	log      *logrus.Entry
}

// NewPipeline opens the connection to addr and returns a pipeline using it.
// Queries are only sent once Run is called.
func NewPipeline(addr string, client *dns.Client, timeout time.Duration) (*Pipeline, error) {
	conn, err := client.Dial(addr)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to open connection to %s", addr)
	}
	return &Pipeline{
		addr:     addr,
		conn:     conn,
		timeout:  timeout,
		requests: make(chan *request),
		done:     make(chan struct{}),
		log:      Log.WithFields(logrus.Fields{"protocol": client.Net, "endpoint": addr}),
	}, nil
}

// Resolve a single query using this connection.
func (c *Pipeline) Resolve(q *dns.Msg) (*dns.Msg, error) {
	r := newRequest(q)

	timeout := time.NewTimer(c.timeout)
	defer timeout.Stop()

	// Queue up the request
	select {
	case c.requests <- r:
	case <-c.done:
		return nil, ErrUpstreamClosed
	case <-timeout.C:
		return nil, QueryTimeoutError{q}
	}

	// Wait for the request to complete or time out
	select {
	case <-r.done:
	case <-c.done:
		return nil, ErrUpstreamClosed
	case <-timeout.C:
		c.inFlight.remove(r)
		return nil, QueryTimeoutError{q}
	}
	return r.waitFor()
}

// Run writes queued queries and reads answers concurrently on the same connection
// until the context is cancelled or the connection fails.
func (c *Pipeline) Run(ctx context.Context) error {
	defer close(c.done)

	stop := make(chan struct{})
	failed := make(chan error, 2)

	go func() { // writer
		for {
			select {
			case req := <-c.requests:
				query := c.inFlight.add(req)
				if err := c.conn.WriteMsg(query); err != nil {
					c.inFlight.remove(req)
					req.markDone(nil, err) // fail the request
					c.log.WithError(err).WithField("qname", qName(query)).Warn("failed to send query")
					if errors.Is(err, net.ErrClosed) {
						failed <- err
						return
					}
				}
			case <-stop:
				return
			}
		}
	}()
	go func() { // reader
		for {
			a, err := c.conn.ReadMsg()
			if err != nil {
				if transientReadError(err) {
					c.log.WithError(err).Debug("ignoring read error")
					continue
				}
				failed <- err
				return
			}
			req := c.inFlight.get(a) // match the answer to an in-flight query
			if req == nil {
				c.log.WithField("id", a.Id).Debug("unexpected answer received")
				continue
			}
			req.markDone(a, nil)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
		err = ctx.Err()
	case e := <-failed:
		c.log.WithError(e).Error("connection terminated")
		err = pkgerrors.Wrap(ErrUpstreamClosed, e.Error())
	}
	close(stop)
	_ = c.conn.Close() // wakes up the reader
	return err
}

// Returns true for read errors that don't affect later reads: undecodable packets
// and ICMP errors reported on the connected socket.
func transientReadError(err error) bool {
	var dnsErr *dns.Error
	if errors.As(err, &dnsErr) {
		return true
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}

// Request sent through the pipeline. It also contains the response and a channel
// that is closed when the request is done.
type request struct {
	q, a *dns.Msg
	id   uint16 // ID used on the wire
	err  error
	done chan struct{}
}

func newRequest(q *dns.Msg) *request {
	return &request{
		q:    q,
		done: make(chan struct{}),
	}
}

// Wait for the request to be completed and return the answer.
func (r *request) waitFor() (*dns.Msg, error) {
	<-r.done
	if r.err != nil {
		return nil, r.err
	}
	if err := checkAnswer(r.q, r.a); err != nil {
		return nil, err
	}
	return r.a, nil
}

// Mark the request as complete.
func (r *request) markDone(a *dns.Msg, err error) {
	if a != nil {
		a.Id = r.q.Id // Fix the query ID in the answer to match the query
	}
	r.a = a
	r.err = err
	close(r.done)
}

// Queue to manage requests that are in flight. Used to asynchronously match received
// responses with their requests.
type inFlightQueue struct {
	requests  map[uint16]*request
	mu        sync.Mutex
	idCounter uint16
}

// Add a request to the queue and return a copy of the query with a new ID. The ID
// needs to be unique per connection, so make one up, use it in the query upstream,
// then map it back to the request.
func (q *inFlightQueue) add(r *request) *dns.Msg {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.requests == nil {
		q.requests = make(map[uint16]*request)
	}
	q.idCounter++
	r.id = q.idCounter
	q.requests[r.id] = r
	query := r.q.Copy()
	query.Id = r.id
	return query
}

// Returns the request for a given answer, or nil if the request isn't in the queue.
// The request is removed from the queue.
func (q *inFlightQueue) get(a *dns.Msg) *request {
	q.mu.Lock()
	defer q.mu.Unlock()
	r, ok := q.requests[a.Id]
	if !ok {
		return nil
	}
	delete(q.requests, a.Id)
	return r
}

// Removes a request that is no longer waited for.
func (q *inFlightQueue) remove(r *request) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.requests[r.id] == r {
		delete(q.requests, r.id)
	}
}

// Number of requests in flight.
func (q *inFlightQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.requests)
}
