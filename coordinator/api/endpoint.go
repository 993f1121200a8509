package api

import (
	"context"
	"errors"

	"github.com/absmach/flotilla/coordinator"
	pkgerrors "github.com/absmach/flotilla/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
	"github.com/go-kit/kit/endpoint"
)

func registerClientEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(registerClientReq)
		if !ok {
			return registrationRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return registrationRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		registration, err := svc.RegisterClient(ctx, req.ClientName)
		if err != nil {
			return registrationRes{}, err
		}

		return registrationRes{Registration: registration}, nil
	}
}

func getTaskEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(taskReq)
		if !ok {
			return taskRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return taskRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		task, err := svc.GetTask(ctx, req.clientID, req.token)
		if err != nil {
			return taskRes{}, err
		}

		return taskRes{Task: task}, nil
	}
}

func submitUpdateEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(updateReq)
		if !ok {
			return okRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return okRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.SubmitUpdate(ctx, req.UpdateSubmission); err != nil {
			return okRes{}, err
		}

		return okRes{OK: true}, nil
	}
}

func submitUpdateCBOREndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(updateCBORReq)
		if !ok {
			return okRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return okRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		if err := svc.SubmitUpdateCBOR(ctx, req.data); err != nil {
			return okRes{}, err
		}

		return okRes{OK: true}, nil
	}
}

func aggregateRoundEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return aggregateRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return aggregateRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		result, err := svc.AggregateRound(ctx, req.id)
		if err != nil {
			return aggregateRes{}, err
		}

		return aggregateRes{AggregateResult: result}, nil
	}
}

func getRoundStatusEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return roundStatusRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return roundStatusRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		status, err := svc.GetRoundStatus(ctx, req.id)
		if err != nil {
			return roundStatusRes{}, err
		}

		return roundStatusRes{Status: status}, nil
	}
}

func getModelEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(versionReq)
		if !ok {
			return modelRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return modelRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		artifact, err := svc.GetModel(ctx, req.version)
		if err != nil {
			return modelRes{}, err
		}

		return modelRes{Artifact: artifact}, nil
	}
}

func getMetricsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return metricsRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return metricsRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		snapshot, err := svc.GetMetrics(ctx, req.id)
		if err != nil {
			return metricsRes{}, err
		}

		return metricsRes{RoundSnapshot: snapshot}, nil
	}
}

func listMetricsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		if _, ok := request.(listReq); !ok {
			return metricsReportRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}

		report, err := svc.ListMetrics(ctx)
		if err != nil {
			return metricsReportRes{}, err
		}

		return metricsReportRes{MetricsReport: report}, nil
	}
}

func getReputationEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(clientReq)
		if !ok {
			return reputationRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return reputationRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		view, err := svc.GetReputation(ctx, req.id)
		if err != nil {
			return reputationRes{}, err
		}

		return reputationRes{ReputationView: view}, nil
	}
}

func listReputationEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		if _, ok := request.(listReq); !ok {
			return listReputationRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}

		views, err := svc.ListReputation(ctx)
		if err != nil {
			return listReputationRes{}, err
		}

		return listReputationRes{Clients: views}, nil
	}
}

func getIncentivesEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(clientReq)
		if !ok {
			return incentivesRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return incentivesRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		record, err := svc.GetIncentives(ctx, req.id)
		if err != nil {
			return incentivesRes{}, err
		}

		return incentivesRes{IncentiveRecord: record}, nil
	}
}

func listIncentivesEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		if _, ok := request.(listReq); !ok {
			return listIncentivesRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}

		records, err := svc.ListIncentives(ctx)
		if err != nil {
			return listIncentivesRes{}, err
		}

		return listIncentivesRes{Clients: records}, nil
	}
}

func getAsyncStatsEndpoint(svc coordinator.Service) endpoint.Endpoint {
	return func(ctx context.Context, request any) (any, error) {
		req, ok := request.(roundReq)
		if !ok {
			return asyncStatsRes{}, errors.Join(apiutil.ErrValidation, pkgerrors.ErrInvalidData)
		}
		if err := req.validate(); err != nil {
			return asyncStatsRes{}, errors.Join(apiutil.ErrValidation, err)
		}

		stats, err := svc.GetAsyncStats(ctx, req.id)
		if err != nil {
			return asyncStatsRes{}, err
		}

		return asyncStatsRes{AsyncStats: stats}, nil
	}
}
