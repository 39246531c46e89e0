package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/toxclient/av"
	"github.com/opd-ai/toxclient/av/audio"
	"github.com/opd-ai/toxclient/engine"
	"github.com/opd-ai/toxclient/file"
	"github.com/opd-ai/toxclient/group"
	"github.com/opd-ai/toxclient/limits"
	"github.com/opd-ai/toxclient/presence"
	"github.com/opd-ai/toxclient/session"
)

// errBadRequest marks malformed paths and bodies.
var errBadRequest = errors.New("bad request")

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dest any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return errors.Join(errBadRequest, err)
	}
	if decoder.Decode(&struct{}{}) != io.EOF {
		return errors.Join(errBadRequest, errors.New("multiple JSON values"))
	}
	return nil
}

// statusFor maps module and engine errors onto HTTP statuses.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, engine.ErrInvalidAddress),
		errors.Is(err, engine.ErrOwnKey),
		errors.Is(err, limits.ErrMessageEmpty),
		errors.Is(err, limits.ErrMessageTooLarge),
		errors.Is(err, presence.ErrInvalidStatus),
		errors.Is(err, file.ErrInvalidFileName),
		errors.Is(err, file.ErrIsDirectory),
		errors.Is(err, file.ErrNotReceiving),
		errors.Is(err, audio.ErrUnsupportedFormat):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, engine.ErrFriendNotFound),
		errors.Is(err, engine.ErrGroupNotFound),
		errors.Is(err, engine.ErrFileNotFound),
		errors.Is(err, engine.ErrCallNotFound),
		errors.Is(err, group.ErrGroupNotFound),
		errors.Is(err, group.ErrInviteNotFound),
		errors.Is(err, file.ErrTransferNotFound),
		errors.Is(err, av.ErrCallNotFound),
		errors.Is(err, audio.ErrDeviceNotFound),
		errors.Is(err, os.ErrNotExist):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, engine.ErrFriendExists),
		errors.Is(err, engine.ErrFriendOffline),
		errors.Is(err, engine.ErrFileNotTransferring),
		errors.Is(err, engine.ErrInvalidCallState),
		errors.Is(err, group.ErrAlreadyJoined),
		errors.Is(err, session.ErrNoProfilePath),
		errors.Is(err, session.ErrSaveDisabled):
		return http.StatusConflict, "conflict"
	case errors.Is(err, engine.ErrSendQueueFull),
		errors.Is(err, engine.ErrTooManyFiles),
		errors.Is(err, engine.ErrTooManyCalls):
		return http.StatusServiceUnavailable, "busy"
	default:
		return http.StatusInternalServerError, "server_error"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		s.log.WithFields(logrus.Fields{
			"function": "writeError",
			"path":     r.URL.Path,
			"error":    err.Error(),
		}).Error("Request failed")
	}
	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func uint32Param(r *http.Request, name string) (uint32, error) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 32)
	if err != nil {
		return 0, errors.Join(errBadRequest, err)
	}
	return uint32(v), nil
}
