package web

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sweeney/gpio-hub/internal/device"
	"github.com/sweeney/gpio-hub/internal/hub"
	"github.com/sweeney/gpio-hub/internal/loop"
)

// CommandJSON is the response to a device command.
type CommandJSON struct {
	Device string `json:"device"`
	Action string `json:"action"`
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
}

func writeCommand(w http.ResponseWriter, code int, id, action, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	data, _ := json.Marshal(CommandJSON{
		Device: id,
		Action: strings.ToUpper(action),
		OK:     code == http.StatusOK,
		Error:  msg,
	})
	w.Write(data)
}

func statusCode(err error) int {
	switch {
	case errors.Is(err, device.ErrUnknownDevice):
		return http.StatusNotFound
	case errors.Is(err, device.ErrUnsupportedAction):
		return http.StatusBadRequest
	case errors.Is(err, device.ErrClosed),
		errors.Is(err, loop.ErrStopped),
		errors.Is(err, hub.ErrChipOffline),
		errors.Is(err, hub.ErrIO),
		errors.Is(err, hub.ErrReleased):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
