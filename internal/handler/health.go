package handler

import (
	"net/http"
	"time"
)

type healthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
	Online int       `json:"online"`
}

// ServeHealth is the unauthenticated liveness check.
func ServeHealth(online func() int, now func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{
			Status: "ok",
			Time:   now().UTC(),
			Online: online(),
		})
	}
}
