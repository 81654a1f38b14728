package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
)

type Handler struct {
	sp StatusProvider
}

type StatusProvider interface {
	GetScanStatus() (entities.ScanStatus, error)
	GetScannedHeights() ([]uint64, error)
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ScannedHeightsResponse struct {
	ScannedHeights []uint64 `json:"scannedHeights"`
}

func NewHandler(sp StatusProvider) *Handler {
	return &Handler{sp: sp}
}

func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	status, err := h.sp.GetScanStatus()
	if errors.Is(err, entities.ErrStoreEntityNotFound) {
		http.Error(w, "No scan finished yet", http.StatusNotFound)
		return
	}
	if err != nil {
		log.Printf("Error getting scan status: %v", err)
		http.Error(w, "Error getting scan status", http.StatusInternalServerError)
		return
	}

	writeJSON(w, status)
}

func (h *Handler) GetScannedHeights(w http.ResponseWriter, _ *http.Request) {
	heights, err := h.sp.GetScannedHeights()
	if err != nil {
		log.Printf("Error getting scanned heights: %v", err)
		http.Error(w, "Error getting scanned heights", http.StatusInternalServerError)
		return
	}

	writeJSON(w, ScannedHeightsResponse{ScannedHeights: heights})
}

func (h *Handler) GetHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, HealthResponse{Status: "UP"})
}

// Routes registers the status endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/status", h.GetStatus)
	mux.HandleFunc("GET /v1/scanned-heights", h.GetScannedHeights)
	mux.HandleFunc("GET /health", h.GetHealth)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Add("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Printf("Error encoding response: %v", err)
		http.Error(w, "Error encoding response", http.StatusInternalServerError)
	}
}
