// Package httpapi exposes the coordinator REST API.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/coin-shuffle/coordinator/internal/app/metrics"
	queuesvc "github.com/coin-shuffle/coordinator/internal/app/services/queue"
	roomssvc "github.com/coin-shuffle/coordinator/internal/app/services/rooms"
	"github.com/coin-shuffle/coordinator/internal/apperr"
	"github.com/coin-shuffle/coordinator/pkg/logger"
)

// Services bundles what the API needs from the application.
type Services struct {
	Queue *queuesvc.Service
	Rooms *roomssvc.Service
}

type handler struct {
	services Services
	log      *logger.Logger
}

// NewHandler returns a router exposing the coordinator REST API.
func NewHandler(services Services, log *logger.Logger) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{services: services, log: log}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/participants", h.register).Methods(http.MethodPost)
	v1.HandleFunc("/participants/{utxo_id}", h.status).Methods(http.MethodGet)
	v1.HandleFunc("/queue/{utxo_id}", h.withdraw).Methods(http.MethodDelete)
	v1.HandleFunc("/rooms/{room_id}/submissions", h.submit).Methods(http.MethodPost)

	return metrics.InstrumentHandler(router)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) register(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UTXOID string `json:"utxo_id"`
		Token  string `json:"token"`
		Amount string `json:"amount"`
		PubKey string `json:"pub_key"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	p, formed, err := h.services.Queue.Enqueue(r.Context(), queuesvc.EnqueueRequest{
		UTXOID: payload.UTXOID,
		Token:  payload.Token,
		Amount: payload.Amount,
		PubKey: payload.PubKey,
	})
	if err != nil {
		writeServiceError(w, err, http.StatusBadRequest)
		return
	}

	resp := map[string]interface{}{
		"utxo_id": p.UTXOID,
		"token":   p.Token,
		"amount":  p.Amount,
		"queued":  p.Queued,
	}
	if formed != nil {
		resp["room"] = map[string]interface{}{
			"id":       formed.ID,
			"state":    formed.State,
			"round":    formed.CurrentRound,
			"deadline": formed.Deadline.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *handler) withdraw(w http.ResponseWriter, r *http.Request) {
	utxoID := mux.Vars(r)["utxo_id"]
	if err := h.services.Queue.Withdraw(r.Context(), utxoID); err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) submit(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["room_id"]

	var payload struct {
		Credential string `json:"credential"`
		Payload    []byte `json:"payload"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	receipt, err := h.services.Rooms.Submit(r.Context(), roomID, payload.Credential, payload.Payload)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"room_id":   receipt.RoomID,
		"round":     receipt.Round,
		"state":     receipt.State,
		"submitted": receipt.Submitted,
		"members":   receipt.Members,
		"tx_hash":   receipt.TxHash,
	})
}

func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	utxoID := mux.Vars(r)["utxo_id"]

	st, err := h.services.Rooms.Status(r.Context(), utxoID)
	if err != nil {
		writeServiceError(w, err, http.StatusInternalServerError)
		return
	}

	resp := map[string]interface{}{
		"utxo_id": st.UTXOID,
		"token":   st.Token,
		"amount":  st.Amount,
		"queued":  st.Queued,
	}
	if st.RoomID != "" {
		roomResp := map[string]interface{}{
			"id":          st.RoomID,
			"state":       st.State,
			"round":       st.Round,
			"round_total": st.RoundTotal,
			"deadline":    st.Deadline.Format(time.RFC3339),
			"submitted":   st.Submitted,
		}
		if st.Credential != "" {
			roomResp["credential"] = st.Credential
		}
		if st.RoundInputs != nil {
			roomResp["round_inputs"] = st.RoundInputs
		}
		if st.TxHash != "" {
			roomResp["tx_hash"] = st.TxHash
		}
		if st.FailureReason != "" {
			roomResp["failure_reason"] = st.FailureReason
		}
		resp["room"] = roomResp
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeServiceError maps stable coordinator error codes onto HTTP statuses;
// anything else gets the fallback.
func writeServiceError(w http.ResponseWriter, err error, fallback int) {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apperr.HTTPStatus(appErr.Code))
		_ = json.NewEncoder(w).Encode(map[string]string{
			"code":  string(appErr.Code),
			"error": appErr.Message,
		})
		return
	}
	writeError(w, fallback, err)
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
