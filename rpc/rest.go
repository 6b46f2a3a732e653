package rpc

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"engagement/state/escrows"
)

// handleEscrowREST serves GET /v1/escrows/{id} with a content digest ETag so
// pollers can revalidate cheaply.
func (s *Server) handleEscrowREST(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	id, rpcErr := requireID(chi.URLParam(r, "id"))
	if rpcErr != nil {
		writeRESTError(w, rpcErr)
		return
	}
	esc, err := s.deps.Escrow.GetEscrowByID(r.Context(), id)
	if err != nil {
		writeRESTError(w, s.escrowError(err))
		return
	}
	digest, err := escrows.Digest(esc)
	if err != nil {
		writeRESTError(w, s.escrowError(err))
		return
	}
	etag := `"` + hex.EncodeToString(digest[:]) + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if matchesETag(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	var vaultPtr *[20]byte
	if vault, err := s.deps.Escrow.VaultAddress(id); err == nil {
		vaultPtr = &vault
	}
	_ = json.NewEncoder(w).Encode(formatEscrowJSON(esc, vaultPtr))
}

func matchesETag(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(candidate), "W/"))
		if candidate == etag || candidate == "*" {
			return true
		}
	}
	return false
}

func writeRESTError(w http.ResponseWriter, rpcErr *RPCError) {
	status := rpcErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error *RPCError `json:"error"`
	}{Error: rpcErr})
}
