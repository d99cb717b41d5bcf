package loader

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	_ "github.com/lib/pq"
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// SQLSource streams export records from a warehouse table with the
// columns object_id, object_type, version, object_json, owner_type,
// owner_address, checkpoint and initial_shared_version.
type SQLSource struct {
	db          *sql.DB
	table       string
	venueColumn string
}

// OpenSQLSource connects to Postgres.
func OpenSQLSource(dsn, table string) (*SQLSource, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open export db: %w", err)
	}
	src, err := NewSQLSource(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	return src, nil
}

// NewSQLSource wraps an existing connection. Rows are filtered by the
// "venue" column unless WithoutVenueFilter is applied.
func NewSQLSource(db *sql.DB, table string) (*SQLSource, error) {
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("invalid export table name %q", table)
	}
	return &SQLSource{db: db, table: table, venueColumn: "venue"}, nil
}

// WithoutVenueFilter reads every row of the table.
func (s *SQLSource) WithoutVenueFilter() *SQLSource {
	s.venueColumn = ""
	return s
}

func (s *SQLSource) Close() error { return s.db.Close() }

// Load reads the rows for the loader's venue. Like LoadJSONL, one bad row
// fails the whole load and nothing is committed.
func (s *SQLSource) Load(ctx context.Context, l *Loader) (int, error) {
	query := `SELECT object_id, object_type, version, object_json, owner_type,
		owner_address, checkpoint, initial_shared_version FROM ` + s.table
	var args []any
	if s.venueColumn != "" {
		query += ` WHERE ` + s.venueColumn + ` = $1`
		args = append(args, l.Venue())
	}
	query += ` ORDER BY object_id, version`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("query export: %w", err)
	}
	defer rows.Close()

	var batch []*Record
	row := 0
	for rows.Next() {
		row++
		var (
			id, typ     string
			version     int64
			payload     []byte
			owner, addr sql.NullString
			checkpoint  sql.NullInt64
			sharedSince sql.NullInt64
		)
		if err := rows.Scan(&id, &typ, &version, &payload, &owner, &addr, &checkpoint, &sharedSince); err != nil {
			return 0, &LineError{Line: row, Err: err}
		}
		var isv *uint64
		if sharedSince.Valid {
			v := uint64(sharedSince.Int64)
			isv = &v
		}
		rec, err := newRecord(id, typ, uint64(version), payload, owner.String, addr.String, uint64(checkpoint.Int64), isv)
		if err != nil {
			return 0, &LineError{Line: row, Err: err}
		}
		batch = append(batch, rec)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("read export rows: %w", err)
	}
	l.commit(batch)
	l.logger.Info().Int("rows", len(batch)).Str("table", s.table).Msg("export loaded from database")
	return len(batch), nil
}
