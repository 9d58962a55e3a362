// Package observability provides OpenTelemetry tracing and metrics around
// the signing engine's core operations.
//
// Initialize at startup:
//
//	p, err := observability.New(ctx, observability.DefaultConfig())
//	defer p.Shutdown(ctx)
//
// Track an operation:
//
//	ctx, done := p.TrackOperation(ctx, "sign_collection", observability.SignAttrs(bid, cid, backend, count)...)
//	err := doSign(ctx)
//	done(err)
package observability
