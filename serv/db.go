package serv

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// driverName maps the configured database type to its registered driver.
func driverName(dbType string) (string, error) {
	switch dbType {
	case "sqlite":
		return "sqlite", nil
	case "mysql":
		return "mysql", nil
	case "postgres", "":
		return "pgx", nil
	default:
		return "", errors.Errorf("unsupported database type %q", dbType)
	}
}

// NewDB opens the connection pool for the configured database and verifies
// it with a ping.
func NewDB(conf *Config, log *zap.SugaredLogger) (*sql.DB, error) {
	driver, err := driverName(conf.DB.Type)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(driver, conf.DB.ConnString)
	if err != nil {
		return nil, errors.Wrap(err, "error opening database")
	}

	if conf.DB.PoolSize != 0 {
		db.SetMaxOpenConns(conf.DB.PoolSize)
	}
	if conf.DB.MaxIdleConns != 0 {
		db.SetMaxIdleConns(conf.DB.MaxIdleConns)
	}
	if conf.DB.MaxLifetime != 0 {
		db.SetConnMaxLifetime(conf.DB.MaxLifetime)
	}

	timeout := conf.DBPingTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for {
		err = db.PingContext(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			db.Close() //nolint:errcheck
			return nil, errors.Wrap(err, "database not reachable")
		}
		log.Warnf("waiting for database: %s", err)
		time.Sleep(500 * time.Millisecond)
	}

	log.Infof("connected to %s database", conf.DB.Type)
	return db, nil
}
