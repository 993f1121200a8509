package api

import (
	"net/http"

	"github.com/absmach/flotilla/coordinator"
	"github.com/absmach/flotilla/pkg/ledger"
	"github.com/absmach/flotilla/pkg/model"
	"github.com/absmach/flotilla/pkg/round"
	"github.com/absmach/supermq"
)

var (
	_ supermq.Response = (*registrationRes)(nil)
	_ supermq.Response = (*taskRes)(nil)
	_ supermq.Response = (*okRes)(nil)
	_ supermq.Response = (*aggregateRes)(nil)
	_ supermq.Response = (*roundStatusRes)(nil)
	_ supermq.Response = (*modelRes)(nil)
	_ supermq.Response = (*metricsRes)(nil)
	_ supermq.Response = (*metricsReportRes)(nil)
	_ supermq.Response = (*reputationRes)(nil)
	_ supermq.Response = (*listReputationRes)(nil)
	_ supermq.Response = (*incentivesRes)(nil)
	_ supermq.Response = (*listIncentivesRes)(nil)
	_ supermq.Response = (*asyncStatsRes)(nil)
)

type registrationRes struct {
	coordinator.Registration
}

func (r registrationRes) Code() int {
	return http.StatusCreated
}

func (r registrationRes) Headers() map[string]string {
	return map[string]string{
		"Location": "/clients/" + r.ClientID,
	}
}

func (r registrationRes) Empty() bool {
	return false
}

type taskRes struct {
	coordinator.Task
}

func (r taskRes) Code() int {
	return http.StatusOK
}

func (r taskRes) Headers() map[string]string {
	return map[string]string{}
}

func (r taskRes) Empty() bool {
	return false
}

type okRes struct {
	OK bool `json:"ok"`
}

func (r okRes) Code() int {
	return http.StatusOK
}

func (r okRes) Headers() map[string]string {
	return map[string]string{}
}

func (r okRes) Empty() bool {
	return false
}

type aggregateRes struct {
	coordinator.AggregateResult
}

func (r aggregateRes) Code() int {
	return http.StatusOK
}

func (r aggregateRes) Headers() map[string]string {
	return map[string]string{}
}

func (r aggregateRes) Empty() bool {
	return false
}

type roundStatusRes struct {
	round.Status
}

func (r roundStatusRes) Code() int {
	return http.StatusOK
}

func (r roundStatusRes) Headers() map[string]string {
	return map[string]string{}
}

func (r roundStatusRes) Empty() bool {
	return false
}

type modelRes struct {
	model.Artifact
}

func (r modelRes) Code() int {
	return http.StatusOK
}

func (r modelRes) Headers() map[string]string {
	return map[string]string{}
}

func (r modelRes) Empty() bool {
	return false
}

type metricsRes struct {
	ledger.RoundSnapshot
}

func (r metricsRes) Code() int {
	return http.StatusOK
}

func (r metricsRes) Headers() map[string]string {
	return map[string]string{}
}

func (r metricsRes) Empty() bool {
	return false
}

type metricsReportRes struct {
	coordinator.MetricsReport
}

func (r metricsReportRes) Code() int {
	return http.StatusOK
}

func (r metricsReportRes) Headers() map[string]string {
	return map[string]string{}
}

func (r metricsReportRes) Empty() bool {
	return false
}

type reputationRes struct {
	ledger.ReputationView
}

func (r reputationRes) Code() int {
	return http.StatusOK
}

func (r reputationRes) Headers() map[string]string {
	return map[string]string{}
}

func (r reputationRes) Empty() bool {
	return false
}

type listReputationRes struct {
	Clients []ledger.ReputationView `json:"clients"`
}

func (r listReputationRes) Code() int {
	return http.StatusOK
}

func (r listReputationRes) Headers() map[string]string {
	return map[string]string{}
}

func (r listReputationRes) Empty() bool {
	return false
}

type incentivesRes struct {
	ledger.IncentiveRecord
}

func (r incentivesRes) Code() int {
	return http.StatusOK
}

func (r incentivesRes) Headers() map[string]string {
	return map[string]string{}
}

func (r incentivesRes) Empty() bool {
	return false
}

type listIncentivesRes struct {
	Clients []ledger.IncentiveRecord `json:"clients"`
}

func (r listIncentivesRes) Code() int {
	return http.StatusOK
}

func (r listIncentivesRes) Headers() map[string]string {
	return map[string]string{}
}

func (r listIncentivesRes) Empty() bool {
	return false
}

type asyncStatsRes struct {
	coordinator.AsyncStats
}

func (r asyncStatsRes) Code() int {
	return http.StatusOK
}

func (r asyncStatsRes) Headers() map[string]string {
	return map[string]string{}
}

func (r asyncStatsRes) Empty() bool {
	return false
}
