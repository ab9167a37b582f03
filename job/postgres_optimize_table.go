package job

import (
	"context"
	"database/sql"

	"github.com/newrelic/go-agent/v3/newrelic"
)

// postgresOptimizeTable runs a plain VACUUM, which does not lock out the relay
// the way VACUUM FULL would.
type postgresOptimizeTable struct {
	Db     *sql.DB
	Tables []string
	SidecarQuitter
}

func (o *postgresOptimizeTable) Execute(ctx context.Context) error {
	err := optimizeTables(ctx, o.Db, o.Tables, newrelic.DatastorePostgres, "VACUUM")
	return o.quitAfter(ctx, err)
}
