// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sqlup uploads acquired samples to a MySQL database.
//
// Samples are stored one row per scan, in a table with columns:
//
//	run  CHAR(36)  run identifier
//	seq  BIGINT    scan index since the start of the run
//	ts   DATETIME  scan time
//	ch0..chN FLOAT calibrated channel values
package sqlup // import "github.com/go-lpc/hsdaq/sqlup"

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
)

var drvName = "mysql"

// Config describes the connection to the upload database.
type Config struct {
	Host     string `koanf:"host" yaml:"host"`
	Port     int    `koanf:"port" yaml:"port"`
	User     string `koanf:"user" yaml:"user"`
	Password string `koanf:"password" yaml:"password"`
	Database string `koanf:"database" yaml:"database"`
}

// DSN returns the MySQL data source name of the configuration.
func (cfg Config) DSN() string {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Timeout = 5 * time.Second
	return c.FormatDSN()
}

// DB is a connection to the upload database.
type DB struct {
	db   *sql.DB
	name string
}

// Open opens and checks a connection to the upload database.
func Open(dsn string) (*DB, error) {
	name := dsn
	if cfg, err := mysql.ParseDSN(dsn); err == nil {
		name = cfg.DBName
	}

	db, err := sql.Open(drvName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlup: could not open %q db: %w", name, err)
	}

	err = ping(db, name)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &DB{db: db, name: name}, nil
}

func ping(db *sql.DB, name string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("sqlup: could not ping %q db: %w", name, err)
	}

	return nil
}

func (db *DB) Close() error {
	return db.db.Close()
}

var tableRe = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

func checkTable(name string) error {
	if !tableRe.MatchString(name) {
		return fmt.Errorf("sqlup: invalid table name %q", name)
	}
	return nil
}

// CreateTable creates the sample table for nch channels, if needed.
func (db *DB) CreateTable(ctx context.Context, table string, nch int) error {
	if err := checkTable(table); err != nil {
		return err
	}
	if nch <= 0 {
		return fmt.Errorf("sqlup: invalid number of channels (%d)", nch)
	}

	var o strings.Builder
	fmt.Fprintf(&o, "CREATE TABLE IF NOT EXISTS `%s` (", table)
	o.WriteString("run CHAR(36) NOT NULL, seq BIGINT UNSIGNED NOT NULL, ts DATETIME(6) NOT NULL")
	for i := 0; i < nch; i++ {
		fmt.Fprintf(&o, ", ch%d FLOAT", i)
	}
	o.WriteString(", PRIMARY KEY (run, seq))")

	_, err := db.db.ExecContext(ctx, o.String())
	if err != nil {
		return fmt.Errorf("sqlup: could not create table %q: %w", table, err)
	}
	return nil
}

// Row is one uploaded scan.
type Row struct {
	Run    uuid.UUID
	Seq    uint64
	Time   time.Time
	Values []float32
}

// Insert inserts rows into table with a single statement.
func (db *DB) Insert(ctx context.Context, table string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	if err := checkTable(table); err != nil {
		return err
	}
	nch := len(rows[0].Values)

	var (
		o    strings.Builder
		args = make([]interface{}, 0, len(rows)*(3+nch))
	)
	fmt.Fprintf(&o, "INSERT INTO `%s` (run, seq, ts", table)
	for i := 0; i < nch; i++ {
		fmt.Fprintf(&o, ", ch%d", i)
	}
	o.WriteString(") VALUES ")
	ph := "(?, ?, ?" + strings.Repeat(", ?", nch) + ")"
	for i, row := range rows {
		if len(row.Values) != nch {
			return fmt.Errorf("sqlup: row %d has %d values, want %d", i, len(row.Values), nch)
		}
		if i > 0 {
			o.WriteString(", ")
		}
		o.WriteString(ph)
		args = append(args, row.Run.String(), int64(row.Seq), row.Time.UTC())
		for _, v := range row.Values {
			args = append(args, float64(v))
		}
	}

	_, err := db.db.ExecContext(ctx, o.String(), args...)
	if err != nil {
		return fmt.Errorf("sqlup: could not insert %d rows into %q: %w", len(rows), table, err)
	}
	return nil
}

// Runs returns the run identifiers stored in table.
func (db *DB) Runs(ctx context.Context, table string) ([]uuid.UUID, error) {
	if err := checkTable(table); err != nil {
		return nil, err
	}
	rows, err := db.db.QueryContext(ctx, "SELECT DISTINCT run FROM `"+table+"`")
	if err != nil {
		return nil, fmt.Errorf("sqlup: could not query runs: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var s string
		err = rows.Scan(&s)
		if err != nil {
			return nil, fmt.Errorf("sqlup: could not scan run: %w", err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("sqlup: invalid run identifier %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlup: could not iterate over runs: %w", err)
	}
	return ids, nil
}
