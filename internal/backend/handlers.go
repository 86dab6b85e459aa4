// Package backend serves the inspector over JSON-RPC and connects the dev
// server to it, either in-process on a loopback port or at a remote URL.
package backend

import (
	"context"
	"encoding/json"

	"github.com/modinspect/modinspect/internal/inspector"
	"github.com/modinspect/modinspect/internal/rpc"
)

// Register exposes svc's methods on srv.
func Register(srv *rpc.Server, svc *inspector.Service) {
	srv.Handle(inspector.MethodGetPayload, func(ctx context.Context, params json.RawMessage) (interface{}, error) {
		var p inspector.PayloadParams
		if err := rpc.DecodeParams(params, &p); err != nil {
			return nil, err
		}
		return svc.GetPayload(ctx, p.Force)
	})

	srv.Handle(inspector.MethodGetMetadata, func(ctx context.Context, _ json.RawMessage) (interface{}, error) {
		return svc.GetMetadata(ctx)
	})
}
