// Package api holds the response and error encoders shared by the
// HTTP transport.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	pkgerrors "github.com/absmach/flotilla/pkg/errors"
	"github.com/absmach/supermq"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/google/uuid"
)

const ContentType = "application/json"

// TokenHeader carries the auth token. When a request also has a body
// token, the header wins.
const TokenHeader = "X-API-Token"

func EncodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	if ar, ok := response.(supermq.Response); ok {
		for k, v := range ar.Headers() {
			w.Header().Set(k, v)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(ar.Code())

		if ar.Empty() {
			return nil
		}
	}

	return json.NewEncoder(w).Encode(response)
}

type errorRes struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// EncodeError maps the taxonomy to HTTP statuses and writes the stable
// code in the body. Codes are the wire contract; statuses are advisory.
func EncodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)

	code := pkgerrors.Code(err)
	if code == pkgerrors.CodeInternal && errors.Is(err, apiutil.ErrValidation) {
		code = "invalid_request"
	}

	switch code {
	case "unauthorized":
		w.WriteHeader(http.StatusUnauthorized)
	case "unknown_client", "unknown_round", "unknown_version", "no_task_available":
		w.WriteHeader(http.StatusNotFound)
	case "duplicate_client", "duplicate_update", "round_not_collecting", "no_assignment", "not_ready":
		w.WriteHeader(http.StatusConflict)
	case "rate_limited":
		w.WriteHeader(http.StatusTooManyRequests)
	case "malformed_delta", "invalid_values", "invalid_request":
		w.WriteHeader(http.StatusBadRequest)
	default:
		w.WriteHeader(http.StatusInternalServerError)
	}

	res := errorRes{Error: code}
	if code != pkgerrors.CodeInternal {
		res.Message = err.Error()
	}

	if err := json.NewEncoder(w).Encode(res); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

// CorrelationID labels recovered panics in logs and responses without
// leaking internals.
func CorrelationID() string {
	return uuid.NewString()
}
