package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/pkg/api"
	pkgerrors "github.com/absmach/flotilla/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-chi/chi/v5"
	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const maxBodySize = 1024 * 1024 * 100

func MakeHandler(svc coordinator.Service, logger *slog.Logger, instanceID string) http.Handler {
	mux := chi.NewRouter()
	mux.Use(recoverer(logger))

	opts := []kithttp.ServerOption{
		kithttp.ServerErrorEncoder(apiutil.LoggingErrorEncoder(logger, api.EncodeError)),
	}

	mux.Route("/clients", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			registerClientEndpoint(svc),
			decodeRegisterClientReq,
			api.EncodeResponse,
			opts...,
		), "register_client").ServeHTTP)
		r.Get("/reputation", otelhttp.NewHandler(kithttp.NewServer(
			listReputationEndpoint(svc),
			decodeListReq,
			api.EncodeResponse,
			opts...,
		), "get_reputation").ServeHTTP)
		r.Get("/incentives", otelhttp.NewHandler(kithttp.NewServer(
			listIncentivesEndpoint(svc),
			decodeListReq,
			api.EncodeResponse,
			opts...,
		), "get_incentives").ServeHTTP)
		r.Route("/{clientID}", func(r chi.Router) {
			r.Get("/task", otelhttp.NewHandler(kithttp.NewServer(
				getTaskEndpoint(svc),
				decodeTaskReq,
				api.EncodeResponse,
				opts...,
			), "get_task").ServeHTTP)
			r.Get("/reputation", otelhttp.NewHandler(kithttp.NewServer(
				getReputationEndpoint(svc),
				decodeClientReq,
				api.EncodeResponse,
				opts...,
			), "get_reputation").ServeHTTP)
			r.Get("/incentives", otelhttp.NewHandler(kithttp.NewServer(
				getIncentivesEndpoint(svc),
				decodeClientReq,
				api.EncodeResponse,
				opts...,
			), "get_incentives").ServeHTTP)
		})
	})

	mux.Route("/updates", func(r chi.Router) {
		r.Post("/", otelhttp.NewHandler(kithttp.NewServer(
			submitUpdateEndpoint(svc),
			decodeUpdateReq,
			api.EncodeResponse,
			opts...,
		), "submit_update").ServeHTTP)
		r.Post("/cbor", otelhttp.NewHandler(kithttp.NewServer(
			submitUpdateCBOREndpoint(svc),
			decodeUpdateCBORReq,
			api.EncodeResponse,
			opts...,
		), "submit_update_cbor").ServeHTTP)
	})

	mux.Route("/rounds", func(r chi.Router) {
		r.Get("/metrics", otelhttp.NewHandler(kithttp.NewServer(
			listMetricsEndpoint(svc),
			decodeListReq,
			api.EncodeResponse,
			opts...,
		), "get_metrics").ServeHTTP)
		r.Route("/{roundID}", func(r chi.Router) {
			r.Get("/", otelhttp.NewHandler(kithttp.NewServer(
				getRoundStatusEndpoint(svc),
				decodeRoundReq,
				api.EncodeResponse,
				opts...,
			), "get_round_status").ServeHTTP)
			r.Post("/aggregate", otelhttp.NewHandler(kithttp.NewServer(
				aggregateRoundEndpoint(svc),
				decodeRoundReq,
				api.EncodeResponse,
				opts...,
			), "aggregate_round").ServeHTTP)
			r.Get("/async", otelhttp.NewHandler(kithttp.NewServer(
				getAsyncStatsEndpoint(svc),
				decodeRoundReq,
				api.EncodeResponse,
				opts...,
			), "get_async_stats").ServeHTTP)
			r.Get("/metrics", otelhttp.NewHandler(kithttp.NewServer(
				getMetricsEndpoint(svc),
				decodeRoundReq,
				api.EncodeResponse,
				opts...,
			), "get_metrics").ServeHTTP)
		})
	})

	mux.Get("/models/{version}", otelhttp.NewHandler(kithttp.NewServer(
		getModelEndpoint(svc),
		decodeVersionReq,
		api.EncodeResponse,
		opts...,
	), "get_model").ServeHTTP)

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", api.ContentType)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":      "pass",
			"service":     "coordinator",
			"instance_id": instanceID,
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

// recoverer converts panics into internal_error responses tagged with
// a correlation id. The panic value never reaches the client.
func recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					correlationID := api.CorrelationID()
					logger.Error("panic recovered",
						slog.String("correlation_id", correlationID),
						slog.String("path", r.URL.Path),
						slog.Any("panic", rec),
					)
					w.Header().Set("Content-Type", api.ContentType)
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"error":          pkgerrors.CodeInternal,
						"correlation_id": correlationID,
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func decodeRegisterClientReq(_ context.Context, r *http.Request) (any, error) {
	var req registerClientReq
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req); err != nil {
		return nil, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
	}

	return req, nil
}

func decodeTaskReq(_ context.Context, r *http.Request) (any, error) {
	return taskReq{
		clientID: chi.URLParam(r, "clientID"),
		token:    r.Header.Get(api.TokenHeader),
	}, nil
}

func decodeUpdateReq(_ context.Context, r *http.Request) (any, error) {
	var req updateReq
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req.UpdateSubmission); err != nil {
		return nil, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
	}
	// A header token wins over the body field.
	if token := r.Header.Get(api.TokenHeader); token != "" {
		req.Token = token
	}

	return req, nil
}

func decodeUpdateCBORReq(_ context.Context, r *http.Request) (any, error) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
	}

	return updateCBORReq{data: data}, nil
}

func decodeRoundReq(_ context.Context, r *http.Request) (any, error) {
	id, err := strconv.ParseUint(chi.URLParam(r, "roundID"), 10, 64)
	if err != nil {
		return nil, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
	}

	return roundReq{id: id}, nil
}

func decodeVersionReq(_ context.Context, r *http.Request) (any, error) {
	return versionReq{version: chi.URLParam(r, "version")}, nil
}

func decodeClientReq(_ context.Context, r *http.Request) (any, error) {
	return clientReq{id: chi.URLParam(r, "clientID")}, nil
}

func decodeListReq(_ context.Context, _ *http.Request) (any, error) {
	return listReq{}, nil
}
