package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	internalerrors "github.com/custodian-dfir/custodian/internal/errors"
	"github.com/custodian-dfir/custodian/internal/utils"
)

// maxBodyBytes caps request bodies. Every request body here is a small
// JSON document; anything bigger is a mistake.
const maxBodyBytes = 1 << 20

// errorResponse is the JSON body of every non-2xx response.
type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	if err := utils.WriteJSONResponse(w, data); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// writeError maps a domain error to an HTTP status through its kind.
func writeError(w http.ResponseWriter, err error) {
	kind := internalerrors.KindOf(err)
	writeJSON(w, statusForKind(kind), errorResponse{Error: err.Error(), Kind: string(kind)})
}

func statusForKind(kind internalerrors.Kind) int {
	switch kind {
	case internalerrors.KindValidation:
		return http.StatusBadRequest
	case internalerrors.KindDuplicateCase, internalerrors.KindDuplicateEvidence:
		return http.StatusConflict
	case internalerrors.KindNotFound:
		return http.StatusNotFound
	case internalerrors.KindCorruptCase, internalerrors.KindUnsupportedFilesystem:
		return http.StatusUnprocessableEntity
	case internalerrors.KindPolicyViolation:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
}

// decodeJSON reads a request body into v. io.EOF comes back unchanged so
// handlers with optional bodies can treat an empty body as defaults.
func decodeJSON(req *http.Request, v interface{}) error {
	defer req.Body.Close()
	return json.NewDecoder(io.LimitReader(req.Body, maxBodyBytes)).Decode(v)
}
