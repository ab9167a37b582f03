package job

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"inviqa/event-outbox/log"
)

// SidecarQuitter asks a service mesh sidecar (Envoy, Istio) to exit once a job
// is done, so the pod running the job can complete.
type SidecarQuitter struct {
	QuitSidecar     bool
	Client          httpDoer
	sidecarProxyUrl string
}

func (s *SidecarQuitter) EnableSideCarProxyQuit(proxyUrl string) {
	s.QuitSidecar = true
	s.sidecarProxyUrl = strings.TrimRight(proxyUrl, "/")
}

func (s *SidecarQuitter) Quit(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.sidecarProxyUrl+"/quitquitquit", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := s.Client.Do(req)
	if err != nil {
		log.Logger.WithError(err).Error("unexpected error received from sidecar proxy /quitquitquit")
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= http.StatusBadRequest {
		err = fmt.Errorf("sidecar proxy /quitquitquit responded with %d", resp.StatusCode)
		log.Logger.WithError(err).Error("sidecar proxy refused to quit")
		return err
	}

	return nil
}

// quitAfter runs the sidecar quit when enabled, keeping the job's own error
// when there is one.
func (s *SidecarQuitter) quitAfter(ctx context.Context, jobErr error) error {
	if !s.QuitSidecar {
		return jobErr
	}

	if err := s.Quit(ctx); err != nil && jobErr == nil {
		return err
	}

	return jobErr
}
