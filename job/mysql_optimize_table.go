package job

import (
	"context"
	"database/sql"

	"github.com/newrelic/go-agent/v3/newrelic"
)

type mysqlOptimizeTable struct {
	Db     *sql.DB
	Tables []string
	SidecarQuitter
}

func (o *mysqlOptimizeTable) Execute(ctx context.Context) error {
	err := optimizeTables(ctx, o.Db, o.Tables, newrelic.DatastoreMySQL, "OPTIMIZE TABLE")
	return o.quitAfter(ctx, err)
}
