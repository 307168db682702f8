package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/DoyleJ11/mafia-session/internal/hub"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// EndpointBody is the JSON shape of a registration on the wire.
type EndpointBody struct {
	ID   string `json:"id,omitempty"`
	Addr string `json:"addr"`
}

type errorBody struct {
	Error string `json:"error"`
}

func RegisterEndpoint(h *hub.Hub, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body EndpointBody
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "bad json")
			return
		}

		ep, err := h.Register(r.Context(), body.ID, body.Addr)
		switch {
		case err == nil:
		case errors.Is(err, hub.ErrCodeTaken):
			writeError(w, http.StatusConflict, err.Error())
			return
		case errors.Is(err, hub.ErrInvalidCode), errors.Is(err, hub.ErrInvalidAddr):
			writeError(w, http.StatusBadRequest, err.Error())
			return
		default:
			log.Error("register failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to register endpoint")
			return
		}

		writeJSON(w, http.StatusCreated, EndpointBody{ID: ep.Code, Addr: ep.Addr})
	}
}

func ResolveEndpoint(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ep, err := h.Resolve(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, hub.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to resolve endpoint")
			return
		}
		writeJSON(w, http.StatusOK, EndpointBody{ID: ep.Code, Addr: ep.Addr})
	}
}

func UnregisterEndpoint(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := h.Unregister(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, hub.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to unregister endpoint")
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func ListEndpoints(h *hub.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := h.Endpoints(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list endpoints")
			return
		}
		out := make([]EndpointBody, 0, len(list))
		for _, ep := range list {
			out = append(out, EndpointBody{ID: ep.Code, Addr: ep.Addr})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
