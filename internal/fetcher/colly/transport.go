package collyfetcher

import (
	"net/http"
	"sync"
)

type recorderKey struct{}

// urlRecorder remembers the last URL requested within one attempt, which after
// redirects is the URL that actually served the response, and the status it answered.
type urlRecorder struct {
	mu     sync.Mutex
	url    string
	status int
}

func (r *urlRecorder) set(u string) {
	r.mu.Lock()
	r.url = u
	r.mu.Unlock()
}

func (r *urlRecorder) setStatus(code int) {
	r.mu.Lock()
	r.status = code
	r.mu.Unlock()
}

// statusCode is zero when no response headers arrived.
func (r *urlRecorder) statusCode() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

func (r *urlRecorder) finalURL(fallback string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.url == "" {
		return fallback
	}
	return r.url
}

type trackingTransport struct {
	base http.RoundTripper
}

func (t *trackingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rec, ok := req.Context().Value(recorderKey{}).(*urlRecorder)
	if ok {
		rec.set(req.URL.String())
	}
	resp, err := t.base.RoundTrip(req)
	if ok && resp != nil {
		rec.setStatus(resp.StatusCode)
	}
	return resp, err //nolint:wrapcheck
}
