package checker

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"pulsewatch/internal/models"
)

// pq raises 57014 when the server cancels a statement on timeout.
const pqQueryCanceled = "57014"

// SQLCheck verifies database connectivity by opening a connection with the
// configuration's location as DSN and running a trivial query under the
// check's timeout.
type SQLCheck struct{}

func (c *SQLCheck) Run(ctx context.Context, cfg models.Configuration) models.Report {
	db, err := sql.Open("postgres", cfg.Location)
	if err != nil {
		return sqlReport(ctx, cfg, err)
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		return sqlReport(ctx, cfg, err)
	}

	return models.Report{
		Config:  cfg,
		State:   models.Healthy,
		Message: "connection established",
	}
}

func sqlReport(ctx context.Context, cfg models.Configuration, err error) models.Report {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		if string(pqErr.Code) == pqQueryCanceled {
			return models.Report{
				Config:  cfg,
				State:   models.TimedOut,
				Message: "query canceled after " + (time.Duration(cfg.TimeoutMS) * time.Millisecond).String(),
				Error:   pqErr.Message,
			}
		}
		return models.Report{
			Config:  cfg,
			State:   models.Unhealthy,
			Message: "database error " + string(pqErr.Code),
			Error:   pqErr.Message,
		}
	}
	return transportReport(ctx, cfg, err)
}
