package ndns

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Read/Write timeout in the admin server
const adminServerTimeout = 10 * time.Second

// AdminListener is a plain HTTP listener serving the metrics of the process.
type AdminListener struct {
	httpServer *http.Server

	id   string
	addr string
	log  *logrus.Entry
}

var _ Listener = &AdminListener{}

// NewAdminListener returns an instance of an admin service listener.
func NewAdminListener(id, addr string) *AdminListener {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &AdminListener{
		id:   id,
		addr: addr,
		log:  Log.WithFields(logrus.Fields{"id": id, "protocol": "http", "addr": addr}),
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  adminServerTimeout,
			WriteTimeout: adminServerTimeout,
		},
	}
}

// Start the admin server.
func (s *AdminListener) Start() error {
	s.log.Info("starting listener")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop the server.
func (s *AdminListener) Stop() error {
	s.log.Info("stopping listener")
	ctx, cancel := context.WithTimeout(context.Background(), adminServerTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *AdminListener) String() string {
	return s.id
}
