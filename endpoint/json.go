package endpoint

import (
	"encoding/json"
	"net/http"
)

// JSONRenderer writes Value as JSON with Status (default 200). Header
// entries are added before the status is written.
//
// Encoding errors are returned but the status may already be on the wire.
type JSONRenderer struct {
	Status int
	Value  any
	Header http.Header
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	copyHeader(w, jr.Header)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")

	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(jr.Value)
}
