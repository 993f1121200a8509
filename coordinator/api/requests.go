package api

import (
	"github.com/absmach/flotilla/coordinator"
	pkgerrors "github.com/absmach/flotilla/pkg/errors"
	apiutil "github.com/absmach/supermq/api/http/util"
)

type registerClientReq struct {
	ClientName string `json:"client_name"`
}

func (r *registerClientReq) validate() error {
	if r.ClientName == "" {
		return apiutil.ErrMissingName
	}

	return nil
}

type taskReq struct {
	clientID string
	token    string
}

func (r *taskReq) validate() error {
	if r.clientID == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type updateReq struct {
	coordinator.UpdateSubmission
}

func (r *updateReq) validate() error {
	if r.ClientID == "" {
		return apiutil.ErrMissingID
	}
	if r.RoundID == 0 {
		return apiutil.ErrMissingID
	}

	return nil
}

type updateCBORReq struct {
	data []byte
}

func (r *updateCBORReq) validate() error {
	if len(r.data) == 0 {
		return pkgerrors.ErrEmptyKey
	}

	return nil
}

type roundReq struct {
	id uint64
}

func (r *roundReq) validate() error {
	if r.id == 0 {
		return apiutil.ErrMissingID
	}

	return nil
}

type versionReq struct {
	version string
}

func (r *versionReq) validate() error {
	if r.version == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type clientReq struct {
	id string
}

func (r *clientReq) validate() error {
	if r.id == "" {
		return apiutil.ErrMissingID
	}

	return nil
}

type listReq struct{}

func (r *listReq) validate() error {
	return nil
}
