// Package httputil holds the response helpers shared by the API and debug
// handlers, and the client abstraction used to read a remote monitor.
package httputil

import (
	"encoding/json"
	"mime"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
)

// ContentTypeMsgpack is the media type of MessagePack bodies.
const ContentTypeMsgpack = "application/msgpack"

// WriteJSONError writes a JSON error response with the given status code and message.
func WriteJSONError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": msg}); err != nil {
		zap.L().Warn("failed to encode json error response", zap.Error(err))
	}
}

// WriteJSON writes a JSON response with the given status code and data.
func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		zap.L().Warn("failed to encode json response", zap.Error(err))
	}
}

// WriteJSONOK writes a successful JSON response (200 OK).
func WriteJSONOK(w http.ResponseWriter, data interface{}) {
	WriteJSON(w, http.StatusOK, data)
}

// WriteMsgpack writes a MessagePack response. The body is encoded before
// the header is sent so an encoding failure can still become a 500.
func WriteMsgpack(w http.ResponseWriter, status int, data interface{}) {
	body, err := msgpack.Marshal(data)
	if err != nil {
		InternalServerError(w, "failed to encode response")
		return
	}
	w.Header().Set("Content-Type", ContentTypeMsgpack)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		zap.L().Debug("failed to write msgpack response", zap.Error(err))
	}
}

// WantsMsgpack reports whether the request prefers MessagePack, either by
// listing it in Accept or by asking with ?format=msgpack.
func WantsMsgpack(r *http.Request) bool {
	if r.URL.Query().Get("format") == "msgpack" {
		return true
	}
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mt, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err != nil {
			continue
		}
		switch mt {
		case ContentTypeMsgpack, "application/x-msgpack", "application/vnd.msgpack":
			return true
		}
	}
	return false
}

// WriteOK writes data as MessagePack or JSON, whichever the request asked for.
func WriteOK(w http.ResponseWriter, r *http.Request, data interface{}) {
	if WantsMsgpack(r) {
		WriteMsgpack(w, http.StatusOK, data)
		return
	}
	WriteJSONOK(w, data)
}

// MethodNotAllowed writes a 405 Method Not Allowed response.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
}

// BadRequest writes a 400 Bad Request response with the given message.
func BadRequest(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusBadRequest, msg)
}

// InternalServerError writes a 500 Internal Server Error response.
func InternalServerError(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusInternalServerError, msg)
}

// NotFound writes a 404 Not Found response.
func NotFound(w http.ResponseWriter, msg string) {
	WriteJSONError(w, http.StatusNotFound, msg)
}
