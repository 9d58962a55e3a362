package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Signer-specific semantic convention attributes.
var (
	AttrBucketID     = attribute.Key("signer.bucket.id")
	AttrCollectionID = attribute.Key("signer.collection.id")

	AttrTransitionFrom = attribute.Key("signer.transition.from")
	AttrTransitionTo   = attribute.Key("signer.transition.to")
	AttrPrincipal      = attribute.Key("signer.transition.principal")

	AttrSignerBackend = attribute.Key("signer.backend")
	AttrRecordCount   = attribute.Key("signer.record_count")

	AttrCacheBackend = attribute.Key("signer.cache.backend")
)

// TransitionAttrs creates attributes for a review transition request.
func TransitionAttrs(bucket, collection, principal, from, to string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBucketID.String(bucket),
		AttrCollectionID.String(collection),
		AttrPrincipal.String(principal),
		AttrTransitionFrom.String(from),
		AttrTransitionTo.String(to),
	}
}

// SignAttrs creates attributes for a sign operation.
func SignAttrs(bucket, collection, backend string, recordCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrBucketID.String(bucket),
		AttrCollectionID.String(collection),
		AttrSignerBackend.String(backend),
		AttrRecordCount.Int(recordCount),
	}
}

// CacheAttrs creates attributes for a cache invalidation attempt.
func CacheAttrs(backend, bucket, collection string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCacheBackend.String(backend),
		AttrBucketID.String(bucket),
		AttrCollectionID.String(collection),
	}
}

// SpanFromContext extracts the span from context.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// AddSpanEvent adds an event to the current span.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanStatus records an error on the current span, if any.
func SetSpanStatus(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err != nil {
		span.RecordError(err)
	}
}
