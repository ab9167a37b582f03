//go:build integration

package http

import (
	"net/http"
	"sync"
)

// Sidecar records the admin calls a job makes to its service mesh proxy.
type Sidecar struct {
	mu    sync.Mutex
	calls map[string]int
}

func NewSidecar() *Sidecar {
	return &Sidecar{calls: map[string]int{}}
}

func (s *Sidecar) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/quitquitquit" || r.Method != http.MethodPost {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	s.mu.Lock()
	s.calls[r.URL.Path]++
	s.mu.Unlock()

	w.WriteHeader(http.StatusOK)
}

func (s *Sidecar) QuitCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls["/quitquitquit"]
}

func (s *Sidecar) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = map[string]int{}
}
