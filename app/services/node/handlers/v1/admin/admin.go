// Package admin maintains the group of handlers operators use to inspect
// and steer the sync process.
package admin

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/adamwoolhether/chainsync/business/sys/validate"
	v1Web "github.com/adamwoolhether/chainsync/business/web/v1"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
	"github.com/adamwoolhether/chainsync/foundation/web"
)

// Handlers manages the set of admin endpoints.
type Handlers struct {
	Log    *zap.SugaredLogger
	Syncer *syncer.Syncer
}

// BlocksRequest names the number of blocks an operation works on.
type BlocksRequest struct {
	Blocks uint64 `json:"blocks" validate:"gt=0"`
}

// Status returns the status of the sync process.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.Syncer.Status(), http.StatusOK)
}

// Rollback reverts the requested number of blocks from the top of the chain.
func (h Handlers) Rollback(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req BlocksRequest
	if err := web.Decode(r, &req); err != nil {
		return v1Web.NewRequestError(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	h.Log.Infow("rollback requested", "traceid", web.GetTraceID(ctx), "blocks", req.Blocks)

	if err := h.Syncer.RemoveBlocks(ctx, req.Blocks); err != nil {
		return requestError(err)
	}

	return web.Respond(ctx, w, h.Syncer.Status(), http.StatusOK)
}

// Prune physically deletes the requested number of blocks from the top of
// storage without reverting them.
func (h Handlers) Prune(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req BlocksRequest
	if err := web.Decode(r, &req); err != nil {
		return v1Web.NewRequestError(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	h.Log.Infow("prune requested", "traceid", web.GetTraceID(ctx), "blocks", req.Blocks)

	if err := h.Syncer.RemoveTopBlocks(req.Blocks); err != nil {
		return requestError(err)
	}

	return web.Respond(ctx, w, h.Syncer.Status(), http.StatusOK)
}

func requestError(err error) error {
	switch {
	case errors.Is(err, syncer.ErrDisposed):
		return v1Web.NewRequestError(err, http.StatusServiceUnavailable)
	case errors.Is(err, syncer.ErrDropped):
		return v1Web.NewRequestError(err, http.StatusConflict)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return v1Web.NewRequestError(err, http.StatusRequestTimeout)
	}

	return err
}
