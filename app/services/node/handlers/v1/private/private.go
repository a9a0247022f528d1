// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/adamwoolhether/chainsync/business/sys/validate"
	v1Web "github.com/adamwoolhether/chainsync/business/web/v1"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/database"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/peer"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/state"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/storage/disk"
	"github.com/adamwoolhether/chainsync/foundation/blockchain/syncer"
	"github.com/adamwoolhether/chainsync/foundation/web"
)

// maxListBlocks is the largest range of blocks a single request may ask for.
const maxListBlocks = 500

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log     *zap.SugaredLogger
	Host    string
	State   *state.State
	Storage *disk.Disk
	Peers   *peer.Set
	Syncer  *syncer.Syncer
}

// SubmitPeerBlock accepts a block broadcast by a peer and hands it to the
// sync process. Blocks seen recently are ignored.
func (h Handlers) SubmitPeerBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.submitBlock(ctx, w, r, false)
}

// SubmitForgedBlock accepts a block forged by this node's forger.
func (h Handlers) SubmitForgedBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return h.submitBlock(ctx, w, r, true)
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	head := h.State.LastBlock()

	status := peer.Status{
		LatestBlockHash:   head.Hash(),
		LatestBlockNumber: head.Height(),
		SyncState:         h.Syncer.State().String(),
		KnownPeers:        h.Peers.Copy(h.Host),
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}

// BlocksByNumber returns the blocks stored for the specified from/to range.
func (h Handlers) BlocksByNumber(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, to, err := blockRange(r)
	if err != nil {
		return err
	}

	blocks, err := h.Storage.GetBlocks(from, to)
	if err != nil {
		return fmt.Errorf("get blocks[%d:%d]: %w", from, to, err)
	}

	data := make([]database.BlockData, 0, len(blocks))
	for _, block := range blocks {
		data = append(data, database.NewBlockData(block))
	}

	return web.Respond(ctx, w, data, http.StatusOK)
}

// BlockIDs returns the ids of the blocks stored for the specified from/to
// range. Peers use it to check the health of their chain.
func (h Handlers) BlockIDs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, to, err := blockRange(r)
	if err != nil {
		return err
	}

	blocks, err := h.Storage.GetBlocks(from, to)
	if err != nil {
		return fmt.Errorf("get blocks[%d:%d]: %w", from, to, err)
	}

	ids := make([]string, 0, len(blocks))
	for _, block := range blocks {
		ids = append(ids, block.Hash())
	}

	return web.Respond(ctx, w, ids, http.StatusOK)
}

// SubmitPeer is called by a node so they can be added to the known peer list.
func (h Handlers) SubmitPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var pr peer.Peer
	if err := web.Decode(r, &pr); err != nil {
		return v1Web.NewRequestError(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(pr); err != nil {
		return err
	}

	if !pr.Match(h.Host) && h.Peers.Add(pr) {
		h.Log.Infow("adding peer", "traceid", web.GetTraceID(ctx), "host", pr.Host)
	}

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

// =============================================================================

func (h Handlers) submitBlock(ctx context.Context, w http.ResponseWriter, r *http.Request, fromForger bool) error {
	var data database.BlockData
	if err := web.Decode(r, &data); err != nil {
		return v1Web.NewRequestError(fmt.Errorf("unable to decode payload: %w", err), http.StatusBadRequest)
	}

	if err := validate.Check(data); err != nil {
		return err
	}

	block, err := database.ToBlock(data)
	if err != nil {
		if errors.Is(err, database.ErrHashMismatch) {
			return v1Web.NewRequestError(err, http.StatusBadRequest)
		}
		return err
	}

	if !fromForger && h.State.HasPing(block.Hash()) {
		h.Log.Infow("block already seen", "traceid", web.GetTraceID(ctx), "height", block.Height(), "id", block.Hash())
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	h.Log.Infow("block received", "traceid", web.GetTraceID(ctx), "height", block.Height(), "id", block.Hash(), "forger", fromForger)
	h.Syncer.HandleIncomingBlock(block, fromForger)

	return web.Respond(ctx, w, nil, http.StatusNoContent)
}

func blockRange(r *http.Request) (uint64, uint64, error) {
	from, err := web.ParamUint(r, "from")
	if err != nil {
		return 0, 0, v1Web.NewRequestError(err, http.StatusBadRequest)
	}

	to, err := web.ParamUint(r, "to")
	if err != nil {
		return 0, 0, v1Web.NewRequestError(err, http.StatusBadRequest)
	}

	switch {
	case from == 0 || from > to:
		return 0, 0, v1Web.NewRequestError(fmt.Errorf("invalid range [%d:%d]", from, to), http.StatusBadRequest)
	case to-from+1 > maxListBlocks:
		return 0, 0, v1Web.NewRequestError(fmt.Errorf("range [%d:%d] exceeds %d blocks", from, to, maxListBlocks), http.StatusBadRequest)
	}

	return from, to, nil
}
