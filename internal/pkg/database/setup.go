package database

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ManuelReschke/Tenantly/app/models"
	"github.com/ManuelReschke/Tenantly/internal/pkg/env"
)

const maxRetries = 5
const retryDelay = 5 * time.Second

// Dialect names understood by Open.
const (
	DialectPostgres = "postgres"
	DialectMySQL    = "mysql"
)

var DB *gorm.DB

// GetDB returns the primary (platform) database handle.
func GetDB() *gorm.DB {
	return DB
}

// SetupDatabase connects to the primary database, retrying while the server
// comes up, and migrates the platform tables.
func SetupDatabase(databaseURL string) (*gorm.DB, error) {
	var err error
	var db *gorm.DB

	for i := 0; i < maxRetries; i++ {
		db, err = Open(databaseURL, nil)
		if err == nil {
			if err = db.AutoMigrate(models.PlatformModels()...); err != nil {
				return nil, fmt.Errorf("failed to migrate platform tables: %w", err)
			}
			DB = db
			return db, nil
		}

		log.Warnf("[Database] Failed to connect (try %d/%d): %v", i+1, maxRetries, err)
		if i < maxRetries-1 {
			log.Infof("[Database] Retrying in %v...", retryDelay)
			time.Sleep(retryDelay)
		}
	}

	return nil, err
}

// Open builds a GORM handle for a database URL. searchPath scopes the
// connection to a tenant schema: on postgres it becomes the search_path
// runtime parameter, on mysql the first entry replaces the database name.
func Open(databaseURL string, searchPath []string) (*gorm.DB, error) {
	dialector, err := Dialector(databaseURL, searchPath)
	if err != nil {
		return nil, err
	}
	cfg := &gorm.Config{}
	if !strings.EqualFold(env.GetEnv("DB_DEBUG", "false"), "true") {
		cfg.Logger = logger.Default.LogMode(logger.Warn)
	}
	return gorm.Open(dialector, cfg)
}

// Dialector selects the GORM dialector from the URL scheme.
func Dialector(databaseURL string, searchPath []string) (gorm.Dialector, error) {
	dialect, dsn, err := BuildDSN(databaseURL, searchPath)
	if err != nil {
		return nil, err
	}
	switch dialect {
	case DialectPostgres:
		return postgres.New(postgres.Config{DSN: dsn}), nil
	case DialectMySQL:
		return mysql.New(mysql.Config{
			DSN:                       dsn,
			DefaultStringSize:         256,
			SkipInitializeWithVersion: false,
		}), nil
	}
	return nil, fmt.Errorf("unsupported database dialect %q", dialect)
}

// DialectOf returns the dialect named by a database URL.
func DialectOf(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "postgres", "postgresql":
		return DialectPostgres
	case "mysql":
		return DialectMySQL
	}
	return ""
}

// BuildDSN turns a database URL plus search path into a driver DSN.
func BuildDSN(databaseURL string, searchPath []string) (string, string, error) {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "", "", fmt.Errorf("invalid database url: %w", err)
	}

	switch DialectOf(databaseURL) {
	case DialectPostgres:
		q := u.Query()
		if len(searchPath) > 0 {
			q.Set("search_path", strings.Join(searchPath, ","))
		}
		if q.Get("sslmode") == "" {
			q.Set("sslmode", "disable")
		}
		u.RawQuery = q.Encode()
		return DialectPostgres, u.String(), nil

	case DialectMySQL:
		dbName := strings.TrimPrefix(u.Path, "/")
		if len(searchPath) > 0 {
			dbName = searchPath[0]
		}
		q := u.Query()
		if q.Get("parseTime") == "" {
			q.Set("parseTime", "True")
		}
		if q.Get("charset") == "" {
			q.Set("charset", "utf8mb4")
		}
		pass, _ := u.User.Password()
		dsn := fmt.Sprintf("%s:%s@tcp(%s)/%s?%s", u.User.Username(), pass, u.Host, dbName, q.Encode())
		return DialectMySQL, dsn, nil
	}

	return "", "", fmt.Errorf("unsupported database url scheme %q", u.Scheme)
}

// Close releases the pool behind a GORM handle.
func Close(db *gorm.DB) error {
	if db == nil {
		return nil
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
