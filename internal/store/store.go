// Package store is the Store Gateway: a typed query/insert façade over the
// columnar analytical store (ClickHouse), matching the §6 contract —
// parameterized SQL, a pooled connection (min 10/max 50, TLS), and
// async_insert=1 on every write.
package store

import (
	"context"
	"crypto/tls"
	"strconv"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/pkg/errors"
)

const (
	minConns = 10
	maxConns = 50
)

// Gateway owns the pooled ClickHouse connection every sub-store shares.
type Gateway struct {
	conn clickhouse.Conn
}

// Options configures the underlying connection.
type Options struct {
	Host     string
	Port     int
	Password string
	Database string
}

// Open establishes the pooled, TLS-required connection described in §6.
func Open(opts Options) (*Gateway, error) {
	database := opts.Database
	if database == "" {
		database = "default"
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr(opts)},
		Auth: clickhouse.Auth{
			Database: database,
			Username: "default",
			Password: opts.Password,
		},
		TLS:         &tls.Config{},
		MaxOpenConns: maxConns,
		MaxIdleConns: minConns,
		Settings: clickhouse.Settings{
			"async_insert": 1,
		},
	})
	if err != nil {
		return nil, errors.Wrap(err, "open clickhouse connection")
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, errors.Wrap(err, "ping clickhouse")
	}

	return &Gateway{conn: conn}, nil
}

// Close releases the pooled connection.
func (g *Gateway) Close() error {
	return g.conn.Close()
}

func addr(opts Options) string {
	host := opts.Host
	if opts.Port != 0 {
		host = host + ":" + strconv.Itoa(opts.Port)
	}
	return host
}
