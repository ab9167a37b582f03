// Package newrelic wraps the agent so the rest of the code can start
// transactions and segments without caring whether the agent is enabled.
package newrelic

import (
	"context"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// ContextWithTxn starts a transaction named name and stores it in the returned
// context. A nil app yields an inert transaction, so callers never nil-check.
func ContextWithTxn(parent context.Context, name string, app *newrelic.Application) (context.Context, *newrelic.Transaction) {
	txn := &newrelic.Transaction{}
	if app != nil {
		txn = app.StartTransaction(name)
	}

	return newrelic.NewContext(parent, txn), txn
}

// StartDatastoreSegment times operation on collection under the transaction in
// ctx, if there is one. End the returned segment when the operation is done.
func StartDatastoreSegment(ctx context.Context, product newrelic.DatastoreProduct, collection, operation string) *newrelic.DatastoreSegment {
	return &newrelic.DatastoreSegment{
		Product:    product,
		Collection: collection,
		Operation:  operation,
		StartTime:  newrelic.FromContext(ctx).StartSegmentNow(),
	}
}
