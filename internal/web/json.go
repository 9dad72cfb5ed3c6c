package web

import (
	"encoding/json"
	"net/http"

	"github.com/sweeney/medicine-tracker/internal/medicine"
	"github.com/sweeney/medicine-tracker/internal/status"
)

// CommandResponse is the body returned by the command API.
type CommandResponse struct {
	OK        bool                  `json:"ok"`
	Error     string                `json:"error,omitempty"`
	Medicines []status.MedicineJSON `json:"medicines"`
}

func writeResult(w http.ResponseWriter, states []medicine.State) {
	meds := make([]status.MedicineJSON, 0, len(states))
	for _, st := range states {
		meds = append(meds, status.MedicineToJSON(st))
	}
	writeJSON(w, http.StatusOK, CommandResponse{OK: true, Medicines: meds})
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, CommandResponse{Error: msg, Medicines: []status.MedicineJSON{}})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(data)
}
