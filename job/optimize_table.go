package job

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"inviqa/event-outbox/config"
	"inviqa/event-outbox/log"
	"inviqa/event-outbox/newrelic"

	nr "github.com/newrelic/go-agent/v3/newrelic"
)

type Optimizer interface {
	Execute(ctx context.Context) error
	EnableSideCarProxyQuit(proxyUrl string)
}

// RunOptimize reclaims space in the outbox and ledger tables and returns the
// process exit code.
func RunOptimize(ctx context.Context, nrApp *nr.Application, db *sql.DB, cfg *config.Config) int {
	ctx, txn := newrelic.ContextWithTxn(ctx, "job: RunOptimize()", nrApp)
	defer txn.End()

	j := newOptimizeTableWithDefaultClient(db, []string{cfg.DBOutboxTable, cfg.DBLedgerTable}, cfg.DBDriver)
	if j == nil {
		log.Logger.WithField("config", cfg).Fatalf("unable to determine the database driver")
		return 1
	}

	if cfg.SidecarProxyUrl != "" {
		j.EnableSideCarProxyQuit(cfg.SidecarProxyUrl)
	}

	if err := j.Execute(ctx); err != nil {
		txn.NoticeError(err)
		return 1
	}

	return 0
}

func newOptimizeTableWithDefaultClient(db *sql.DB, tables []string, dr config.DbDriver) Optimizer {
	return newOptimizeTable(db, tables, dr, http.DefaultClient)
}

func newOptimizeTable(db *sql.DB, tables []string, dr config.DbDriver, cl httpDoer) Optimizer {
	sc := SidecarQuitter{Client: cl}
	switch true {
	case dr.MySQL():
		return &mysqlOptimizeTable{
			Db:             db,
			Tables:         tables,
			SidecarQuitter: sc,
		}
	case dr.Postgres():
		return &postgresOptimizeTable{
			Db:             db,
			Tables:         tables,
			SidecarQuitter: sc,
		}
	}
	return nil
}

// optimizeTables runs stmt against every table, carrying on past failures.
// The first error is returned.
func optimizeTables(ctx context.Context, db *sql.DB, tables []string, product nr.DatastoreProduct, stmt string) error {
	var firstErr error
	for _, table := range tables {
		seg := newrelic.StartDatastoreSegment(ctx, product, table, stmt)
		_, err := db.ExecContext(ctx, fmt.Sprintf("%s %s;", stmt, table))
		seg.End()

		logger := log.Logger.WithField("table", table)
		if err != nil {
			logger.WithError(err).Errorf("an error occurred optimizing the %s table", product)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		logger.Infof("optimized %s table successfully", product)
	}

	return firstErr
}
