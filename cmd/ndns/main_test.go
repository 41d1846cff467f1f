package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/ndns-project/ndns"
	"github.com/stretchr/testify/require"
)

type testListener struct {
	once sync.Once
	stop chan struct{}
}

func newTestListener() *testListener {
	return &testListener{stop: make(chan struct{})}
}

func (l *testListener) Start() error {
	<-l.stop
	return nil
}

func (l *testListener) Stop() error {
	l.once.Do(func() { close(l.stop) })
	return nil
}

func (l *testListener) String() string {
	return "test-listener"
}

// Upstream that fails with err, or runs until cancelled when err is nil.
type testUpstream struct {
	err error
}

func (u testUpstream) Resolve(string, uint16, uint16) (*dns.Msg, error) {
	return nil, ndns.ErrUpstreamClosed
}

func (u testUpstream) Run(ctx context.Context) error {
	if u.err != nil {
		return u.err
	}
	<-ctx.Done()
	return ctx.Err()
}

func (u testUpstream) String() string {
	return "test-upstream"
}

func TestServeUpstreamFailure(t *testing.T) {
	l := newTestListener()
	err := serve(context.Background(), testUpstream{err: errors.New("connection lost")}, []ndns.Listener{l})
	require.Error(t, err)

	// The listener was stopped
	select {
	case <-l.stop:
	default:
		t.Fatal("listener not stopped")
	}
}

func TestServeShutdown(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	l := newTestListener()
	err := serve(ctx, testUpstream{}, []ndns.Listener{l, newTestListener()})
	require.NoError(t, err)
}

func TestServeUpstreamFailureStopsDNSListener(t *testing.T) {
	// The upstream fails before the listener had a chance to start, repeat to
	// hit the different orderings.
	for i := 0; i < 20; i++ {
		h := ndns.NewHandler(ndns.NewClassifier(ndns.NewSuffixBlocklist(nil), ndns.NewSetCache()), testUpstream{})
		l := ndns.NewDNSListener("udp", "127.0.0.1:0", ndns.ListenOptions{}, h)

		done := make(chan error)
		go func() {
			done <- serve(context.Background(), testUpstream{err: errors.New("connection lost")}, []ndns.Listener{l})
		}()
		select {
		case err := <-done:
			require.Error(t, err)
		case <-time.After(2 * time.Second):
			t.Fatalf("serve did not return after the upstream failed, iteration %d", i)
		}
	}
}
