// Copyright (c) 2026 Timo Savola. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqltickets implements devserver.TicketStore using a SQL database.
// Supports at least SQLite and PostgreSQL.
package sqltickets

import (
	"database/sql"
	"strings"
	"time"

	. "import.name/type/context"
)

const Schema = `
CREATE TABLE IF NOT EXISTS ticket (
	ticket TEXT NOT NULL,
	expire BIGINT NOT NULL,

	PRIMARY KEY (ticket)
) WITHOUT ROWID, STRICT;

CREATE INDEX IF NOT EXISTS ticket_expire ON ticket (expire);
`

type Config struct {
	Driver string
	DSN    string
}

func (c *Config) Enabled() bool {
	return c.Driver != "" && c.DSN != ""
}

type Endpoint struct {
	db     *sql.DB
	driver string
}

func Open(config Config) (*Endpoint, error) {
	db, err := sql.Open(config.Driver, config.DSN)
	if err != nil {
		return nil, err
	}
	return &Endpoint{db, config.Driver}, nil
}

func (x *Endpoint) Close() error {
	return x.db.Close()
}

// Init creates the schema if necessary.
func (x *Endpoint) Init(ctx Context) error {
	for _, stmt := range strings.SplitAfter(x.adjustSchema(Schema), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := x.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (x *Endpoint) Issue(ctx Context, ticket string, expire time.Time) error {
	conn, err := x.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	q := "DELETE FROM ticket WHERE expire < $1"
	if _, err := conn.ExecContext(ctx, q, time.Now().Unix()); err != nil {
		return err
	}

	q = "INSERT INTO ticket (ticket, expire) VALUES ($1, $2)"
	_, err = conn.ExecContext(ctx, q, ticket, expire.Unix())
	return err
}

func (x *Endpoint) Redeem(ctx Context, ticket string) (bool, error) {
	q := "DELETE FROM ticket WHERE ticket = $1 AND expire >= $2"
	result, err := x.db.ExecContext(ctx, q, ticket, time.Now().Unix())
	if err != nil {
		return false, err
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (x *Endpoint) adjustSchema(s string) string {
	switch x.driver {
	case "sqlite", "sqlite3":
		s = strings.ReplaceAll(s, " BIGINT", " INTEGER")

	default:
		s = strings.ReplaceAll(s, " WITHOUT ROWID, STRICT;", ";")
	}

	return s
}
