package client

import (
	"github.com/certen/grandpa-parachain-client/pkg/hostctx"
	"github.com/certen/grandpa-parachain-client/pkg/lcerr"
)

func frozenClientError() error {
	return lcerr.New(lcerr.FrozenClient, "client is frozen")
}

func heightAheadOfLatestError(height hostctx.Height, latest uint32) error {
	return lcerr.Newf(lcerr.HeightMismatch, "height %s is ahead of latest committed para height %d", height, latest)
}
