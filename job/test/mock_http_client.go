package test

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
)

type MockHttpClient struct {
	sync.RWMutex
	SentReqs     map[string]bool
	statusCode   int
	returnErrors bool
}

func NewMockHttpClient() *MockHttpClient {
	return &MockHttpClient{
		SentReqs:   map[string]bool{},
		statusCode: http.StatusOK,
	}
}

func (m *MockHttpClient) Do(req *http.Request) (*http.Response, error) {
	m.Lock()
	defer m.Unlock()

	if m.returnErrors {
		return nil, errors.New("oops")
	}

	m.SentReqs[req.Method+" "+req.URL.String()] = true

	return &http.Response{
		StatusCode: m.statusCode,
		Body:       io.NopCloser(strings.NewReader("")),
	}, nil
}

func (m *MockHttpClient) ReturnErrors() {
	m.Lock()
	defer m.Unlock()
	m.returnErrors = true
}

func (m *MockHttpClient) RespondWith(statusCode int) {
	m.Lock()
	defer m.Unlock()
	m.statusCode = statusCode
}

func (m *MockHttpClient) Sent(method, url string) bool {
	m.RLock()
	defer m.RUnlock()
	return m.SentReqs[method+" "+url]
}

func (m *MockHttpClient) SentCount() int {
	m.RLock()
	defer m.RUnlock()
	return len(m.SentReqs)
}
