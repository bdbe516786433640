package routes

import (
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/trialmatch-ai/platform/pkg/common/logger"
	"github.com/trialmatch-ai/platform/pkg/gateway/httpclient"
)

// ServiceProxy fronts the three backend services. The gateway strips
// the /api prefix and forwards the rest of the path verbatim.
type ServiceProxy struct {
	client        *http.Client
	screeningBase string
	trialBase     string
	registryBase  string
}

func NewServiceProxy(client *http.Client, screeningBase, trialBase, registryBase string) *ServiceProxy {
	return &ServiceProxy{
		client:        client,
		screeningBase: strings.TrimRight(screeningBase, "/"),
		trialBase:     strings.TrimRight(trialBase, "/"),
		registryBase:  strings.TrimRight(registryBase, "/"),
	}
}

func (p *ServiceProxy) Register(r *mux.Router) {
	r.PathPrefix("/api/screening").HandlerFunc(p.forwardTo(p.screeningBase))
	r.PathPrefix("/api/trials").HandlerFunc(p.forwardTo(p.trialBase))
	r.PathPrefix("/api/patients").HandlerFunc(p.forwardTo(p.registryBase))
}

func (p *ServiceProxy) forwardTo(base string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request", http.StatusBadRequest)
			return
		}

		target := base + strings.TrimPrefix(r.URL.Path, "/api")
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}

		attempts := 1
		if r.Method == http.MethodGet {
			attempts = 3
		}

		var resp *http.Response
		err = httpclient.Retry(r.Context(), attempts, 100*time.Millisecond, func() error {
			req, reqErr := http.NewRequestWithContext(r.Context(), r.Method, target, bytes.NewReader(body))
			if reqErr != nil {
				return reqErr
			}
			for _, header := range []string{"Content-Type", "Authorization", "X-Request-ID", "X-Actor"} {
				if value := r.Header.Get(header); value != "" {
					req.Header.Set(header, value)
				}
			}
			var doErr error
			resp, doErr = p.client.Do(req)
			return doErr
		})
		if err != nil {
			logger.Log.WithError(err).WithField("target", target).Error("upstream request failed")
			http.Error(w, "upstream unavailable", http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()

		if contentType := resp.Header.Get("Content-Type"); contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			logger.Log.WithError(err).Warn("response copy interrupted")
		}
	}
}
