package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/payload"
)

const maxPayloadBytes = 64 << 10

type healthResponse struct {
	Status             string `json:"status"`
	State              string `json:"state"`
	ConsumerRegistered bool   `json:"consumer_registered"`
}

type currentResponse struct {
	State string       `json:"state"`
	Call  *call.Record `json:"call"`
}

type actionResponse struct {
	CallID  string `json:"call_id"`
	Applied bool   `json:"applied"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:             "ok",
		State:              string(s.svc.State()),
		ConsumerRegistered: s.svc.Registered(),
	})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	resp := currentResponse{State: string(s.svc.State())}
	if rec, ok := s.svc.Current(); ok {
		resp.Call = &rec
	}
	writeJSON(w, http.StatusOK, resp)
}

// handlePayload accepts a raw push document as the request body.
func (s *Server) handlePayload(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "reading body")
		return
	}

	doc, err := payload.Parse(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := s.svc.OnPayload(r.Context(), doc)
	if err != nil {
		if out.Applied {
			slog.Warn("payload applied with error", "event", out.Event, "call_id", out.Call.CallID, "error", err)
			writeEnvelope(w, statusFor(err), out, err.Error())
			return
		}
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAction(act func(context.Context, string) (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		applied, err := act(r.Context(), id)
		resp := actionResponse{CallID: id, Applied: applied}
		if err != nil {
			if applied {
				writeEnvelope(w, statusFor(err), resp, err.Error())
				return
			}
			writeError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
