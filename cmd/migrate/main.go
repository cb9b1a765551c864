/*
 * Copyright 2017-2022 Provide Technologies Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"

	"github.com/golang-migrate/migrate"
	"github.com/golang-migrate/migrate/database/postgres"
	_ "github.com/golang-migrate/migrate/source/file"
	dbconf "github.com/kthomas/go-db-config"
	_ "github.com/lib/pq"
	"github.com/provideplatform/xchain/common"
)

const defaultMigrationsPath = "file://./db/migrations"

func main() {
	cfg := dbconf.GetDBConfig()

	err := migrateUp(cfg, migrationsSource())
	if err != nil {
		common.Log.Errorf("migrations failed; %s", err.Error())
		os.Exit(1)
	}
}

func migrationsSource() string {
	if path := os.Getenv("DATABASE_MIGRATIONS_PATH"); path != "" {
		return path
	}
	return defaultMigrationsPath
}

// dsn returns the postgres connection string for the configured database
func dsn(cfg *dbconf.DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.DatabaseUser),
		url.QueryEscape(cfg.DatabasePassword),
		cfg.DatabaseHost,
		cfg.DatabasePort,
		cfg.DatabaseName,
		cfg.DatabaseSSLMode,
	)
}

func migrateUp(cfg *dbconf.DBConfig, source string) error {
	db, err := sql.Open("postgres", dsn(cfg))
	if err != nil {
		return fmt.Errorf("failed to open database connection; %s", err.Error())
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to initialize postgres migration driver; %s", err.Error())
	}

	m, err := migrate.NewWithDatabaseInstance(source, cfg.DatabaseName, driver)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations from %s; %s", source, err.Error())
	}

	err = m.Up()
	if err == migrate.ErrNoChange {
		common.Log.Debugf("database %s is up to date", cfg.DatabaseName)
		return nil
	}
	if err != nil {
		return err
	}

	version, dirty, _ := m.Version()
	common.Log.Debugf("migrated database %s to version %d; dirty: %v", cfg.DatabaseName, version, dirty)
	return nil
}
