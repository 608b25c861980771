package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/DoyleJ11/autohost/internal/hub"
	"github.com/DoyleJ11/autohost/internal/orchestrator"
	"github.com/DoyleJ11/autohost/pkg/types"
	"go.uber.org/zap"
)

// Orchestrator is the part of the orchestrator the HTTP layer talks to.
type Orchestrator interface {
	Post(m orchestrator.Msg) bool
	Done() <-chan struct{}
}

// StatusSource serves the last published snapshot.
type StatusSource interface {
	GetLatest(ctx context.Context) (hub.Latest, error)
}

const commandTimeout = 10 * time.Second

// PostCommand runs one operator command as the token's user, at the token's
// access level.
func PostCommand(o Orchestrator, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, errorBody("unauthorized"))
			return
		}
		var req types.CommandRequest
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody("bad json"))
			return
		}
		args := strings.Fields(strings.TrimPrefix(strings.TrimSpace(req.Command), "!"))
		if len(args) == 0 {
			writeJSON(w, http.StatusBadRequest, errorBody("empty command"))
			return
		}

		reply := make(chan orchestrator.Result, 1)
		cmd := orchestrator.Command{
			Source: orchestrator.SourceAPI,
			User:   claims.Name,
			Access: claims.Access,
			Args:   args,
			Reply:  reply,
		}
		if !o.Post(cmd) {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("autohost is shutting down"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
		defer cancel()
		select {
		case res := <-reply:
			logger.Info("operator command",
				zap.String("user", claims.Name),
				zap.Strings("args", args),
				zap.Bool("ok", res.Err == nil))
			if res.Err != nil {
				writeJSON(w, statusFor(res.Err), types.CommandResponse{Error: res.Err.Error()})
				return
			}
			writeJSON(w, http.StatusOK, types.CommandResponse{OK: true, Reply: res.Reply})
		case <-o.Done():
			writeJSON(w, http.StatusServiceUnavailable, errorBody("autohost stopped"))
		case <-ctx.Done():
			writeJSON(w, http.StatusGatewayTimeout, errorBody("command timed out"))
		}
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, orchestrator.ErrUnknownCommand):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrBadArguments), errors.Is(err, orchestrator.ErrNotVotable):
		return http.StatusBadRequest
	}
	return http.StatusConflict
}

// GetStatus returns the latest room snapshot.
func GetStatus(s StatusSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		l, err := s.GetLatest(r.Context())
		if err != nil {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("status unavailable"))
			return
		}
		if !l.OK {
			writeJSON(w, http.StatusServiceUnavailable, errorBody("no status published yet"))
			return
		}
		writeJSON(w, http.StatusOK, l.Snapshot)
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func errorBody(msg string) types.CommandResponse {
	return types.CommandResponse{Error: msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
