package handler

import (
	"net/http"

	"github.com/klimadev/chamalead-sub000/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeSuccess(w http.ResponseWriter, data any) {
	httputil.WriteSuccess(w, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}
