package http

import (
	"context"
	"net"
	"net/http"
	"time"

	"inviqa/event-outbox/log"
)

const checkTimeout = time.Second

type healthzHandler struct {
	checkAddr []string
	db        Pinger
	dial      func(network, addr string, timeout time.Duration) (net.Conn, error)
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

// NewHealthzHandler serves liveness (database ping) by default and readiness
// (database ping plus a TCP dial of every address in checkAddr) when called
// with ?readiness=1.
func NewHealthzHandler(checkAddr []string, db Pinger) http.Handler {
	return &healthzHandler{
		checkAddr: checkAddr,
		db:        db,
		dial:      net.DialTimeout,
	}
}

func (h healthzHandler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	healthy := h.checkDatabase(req.Context())
	if healthy && req.URL.Query().Get("readiness") == "1" {
		healthy = h.checkServices()
	}

	if healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (h healthzHandler) checkDatabase(parent context.Context) bool {
	ctx, cancel := context.WithTimeout(parent, checkTimeout)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		log.Logger.WithError(err).Debug("database is not available or there is a problem with connectivity")
		return false
	}
	return true
}

func (h healthzHandler) checkServices() bool {
	healthy := true
	for _, host := range h.checkAddr {
		conn, err := h.dial("tcp", host, checkTimeout)
		if err != nil {
			healthy = false
			log.Logger.WithError(err).Debugf("unable to connect to %s", host)
			continue
		}
		_ = conn.Close()
	}
	return healthy
}
