// Package ledger is the Postgres allocation ledger. Its tests need a live
// server: they build with the integration tag and run when POSTGRES_TEST_URL
// points at a database the test user may create schemas in.
//
//	POSTGRES_TEST_URL=postgres://localhost/allocator_test go test -tags integration ./pkg/db/postgres/ledger/
package ledger

import (
	"context"
	"fmt"

	"github.com/bloodlink/allocator/pkg/db/postgres"
	"go.uber.org/zap"
)

// DB is the Postgres-backed allocation ledger.
type DB struct {
	postgres.Client
	Schema string // Schema name (e.g., "allocation")
}

// New wraps client and ensures the ledger tables exist.
func New(ctx context.Context, client postgres.Client, schema string) (*DB, error) {
	if schema == "" {
		schema = "allocation"
	}
	client.Logger = client.Logger.With(zap.String("schema", schema), zap.String("component", "ledger"))

	db := &DB{
		Client: client,
		Schema: schema,
	}

	if err := db.InitializeDB(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// Close terminates the underlying PostgreSQL connection
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// SchemaTable returns a schema-qualified table name
func (db *DB) SchemaTable(tableName string) string {
	return fmt.Sprintf("%s.%s", db.Schema, tableName)
}

// InitializeDB ensures the required schema and tables exist
func (db *DB) InitializeDB(ctx context.Context) error {
	db.Logger.Info("Initializing ledger database", zap.String("schema", db.Schema))

	if err := db.CreateSchemaIfNotExists(ctx, db.Schema); err != nil {
		return fmt.Errorf("failed to create schema %s: %w", db.Schema, err)
	}

	db.Logger.Debug("Initialize blood_requests table")
	if err := db.initBloodRequests(ctx); err != nil {
		return fmt.Errorf("init blood_requests: %w", err)
	}

	db.Logger.Debug("Initialize request_hospitals table")
	if err := db.initRequestHospitals(ctx); err != nil {
		return fmt.Errorf("init request_hospitals: %w", err)
	}

	// donors, donations and transfers are owned by the donor registry; they
	// are created here only so a fresh database can serve rebuilds.
	db.Logger.Debug("Initialize inventory tables")
	if err := db.initInventory(ctx); err != nil {
		return fmt.Errorf("init inventory tables: %w", err)
	}

	return nil
}

func (db *DB) initBloodRequests(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			request_id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL,
			patient_name TEXT NOT NULL DEFAULT '',
			blood_type TEXT NOT NULL,
			urgency TEXT NOT NULL DEFAULT 'routine',
			units_needed INTEGER NOT NULL DEFAULT 1,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		)
	`, db.SchemaTable("blood_requests"))

	return db.Exec(ctx, query)
}

func (db *DB) initRequestHospitals(ctx context.Context) error {
	table := db.SchemaTable("request_hospitals")
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			request_id TEXT NOT NULL REFERENCES %s (request_id),
			hospital_id TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			reason TEXT NOT NULL DEFAULT '',
			notes TEXT,
			responded_at TIMESTAMP WITH TIME ZONE,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			PRIMARY KEY (request_id, hospital_id)
		);

		CREATE INDEX IF NOT EXISTS idx_request_hospitals_hospital_status ON %s (hospital_id, status);
	`, table, db.SchemaTable("blood_requests"), table)

	return db.Exec(ctx, query)
}

func (db *DB) initInventory(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			donor_id BIGSERIAL PRIMARY KEY,
			hospital_id TEXT NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			email TEXT,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS %s (
			blood_id TEXT PRIMARY KEY,
			donor_id BIGINT NOT NULL DEFAULT 0,
			hospital_id TEXT NOT NULL,
			blood_type TEXT NOT NULL,
			rh_factor TEXT NOT NULL,
			component_type TEXT NOT NULL DEFAULT 'whole_blood',
			volume_ml BIGINT NOT NULL DEFAULT 0,
			collection_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			expiry_date TIMESTAMP WITH TIME ZONE NOT NULL,
			status TEXT NOT NULL DEFAULT 'available',
			updated_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_donations_hospital_status ON %s (hospital_id, status);

		CREATE TABLE IF NOT EXISTS %s (
			transfer_id BIGSERIAL PRIMARY KEY,
			blood_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			hospital_id TEXT NOT NULL,
			notes TEXT,
			transfer_date TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
			created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
		);
	`,
		db.SchemaTable("donors"),
		db.SchemaTable("donations"),
		db.SchemaTable("donations"),
		db.SchemaTable("transfers"),
	)

	return db.Exec(ctx, query)
}
