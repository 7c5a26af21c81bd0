package relay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"studio/internal/domain"
	"studio/internal/middleware"
)

// proxy returns the handler for one engine operation. It strips the
// credential from the body, re-posts the remainder to the engine upstream
// with the proper auth header, and streams status, content type, and body
// back unchanged.
func (s *Server) proxy(op string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := domain.Provider(chi.URLParam(r, "provider"))
		base, ok := s.upstreams[provider]
		if !ok {
			s.error(w, http.StatusNotFound, fmt.Sprintf("unknown engine %q", provider))
			return
		}

		forward, apiKey, err := splitCredential(r.Body)
		if err != nil {
			s.error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if apiKey == "" {
			s.error(w, http.StatusUnauthorized, "apiKey is required")
			return
		}

		req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, base+"/"+op, bytes.NewReader(forward))
		if err != nil {
			s.error(w, http.StatusInternalServerError, "failed to build upstream request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		if rid := middleware.RequestIDFromContext(r.Context()); rid != "" {
			req.Header.Set(middleware.HeaderRequestID, rid)
		}
		authorize(req.Header, provider, apiKey)

		resp, err := s.client.Do(req)
		if err != nil {
			s.logger.Warn().Err(err).
				Str("provider", string(provider)).
				Str("op", op).
				Msg("relay: upstream unreachable")
			s.error(w, http.StatusBadGateway, "upstream unreachable")
			return
		}
		defer resp.Body.Close()

		if ct := resp.Header.Get("Content-Type"); ct != "" {
			w.Header().Set("Content-Type", ct)
		}
		w.WriteHeader(resp.StatusCode)
		if _, err := io.Copy(w, resp.Body); err != nil {
			s.logger.Warn().Err(err).
				Str("provider", string(provider)).
				Str("op", op).
				Msg("relay: response copy aborted")
		}
	}
}

// authorize places the credential where the target engine looks for it.
func authorize(h http.Header, p domain.Provider, apiKey string) {
	switch p {
	case domain.ProviderNavy:
		h.Set("Authorization", "Bearer "+apiKey)
	case domain.ProviderIris:
		h.Set("x-goog-api-key", apiKey)
	case domain.ProviderOnyx:
		h.Set("X-API-Key", apiKey)
	}
}

// splitCredential pulls "apiKey" out of a JSON object body and returns the
// remaining fields re-encoded for the upstream, byte-exact in value.
func splitCredential(body io.Reader) ([]byte, string, error) {
	var payload map[string]json.RawMessage
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		return nil, "", fmt.Errorf("decode body: %w", err)
	}
	var apiKey string
	if raw, ok := payload["apiKey"]; ok {
		if err := json.Unmarshal(raw, &apiKey); err != nil {
			return nil, "", fmt.Errorf("apiKey must be a string: %w", err)
		}
		delete(payload, "apiKey")
	}
	forward, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("encode forward body: %w", err)
	}
	return forward, strings.TrimSpace(apiKey), nil
}
