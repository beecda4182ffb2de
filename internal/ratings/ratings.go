// Package ratings loads (user, item, rating) triples from persisted tables
// through an in-process DuckDB.
//
// Supported inputs:
//   - Parquet files (.parquet) with columns user_id, item_id, rating
//   - CSV/TSV files with a header row holding the same columns
//   - MovieLens u.data (tab separated, no header: user, item, rating, timestamp)
package ratings

import (
	"context"
	"database/sql"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
	"gonum.org/v1/gonum/floats"

	"github.com/cnclabs/contextrec/internal/logging"
)

// Table is a sparse rating matrix in coordinate form. Users[k], Items[k]
// and Values[k] describe one rating; IDs index UserKeys and ItemKeys.
type Table struct {
	Users  []int
	Items  []int
	Values []float64

	UserKeys []string
	ItemKeys []string
}

// Len is the number of ratings.
func (t *Table) Len() int {
	return len(t.Values)
}

// NumUsers is the number of distinct users.
func (t *Table) NumUsers() int {
	return len(t.UserKeys)
}

// NumItems is the number of distinct items.
func (t *Table) NumItems() int {
	return len(t.ItemKeys)
}

// Mean is the mean rating, or 0 for an empty table.
func (t *Table) Mean() float64 {
	if len(t.Values) == 0 {
		return 0
	}
	return floats.Sum(t.Values) / float64(len(t.Values))
}

// Split moves a random evalFrac share of the ratings into a second table.
// Both tables keep the full user and item key lists, so IDs mean the same
// in either.
func (t *Table) Split(evalFrac float64, rng *rand.Rand) (train, eval *Table) {
	train = &Table{UserKeys: t.UserKeys, ItemKeys: t.ItemKeys}
	eval = &Table{UserKeys: t.UserKeys, ItemKeys: t.ItemKeys}
	for k := range t.Values {
		dst := train
		if rng.Float64() < evalFrac {
			dst = eval
		}
		dst.Users = append(dst.Users, t.Users[k])
		dst.Items = append(dst.Items, t.Items[k])
		dst.Values = append(dst.Values, t.Values[k])
	}
	return train, eval
}

func quote(path string) string {
	return "'" + strings.ReplaceAll(path, "'", "''") + "'"
}

// source returns the DuckDB table expression that yields user_id, item_id
// and rating for path.
func source(path string) string {
	switch {
	case strings.EqualFold(filepath.Ext(path), ".parquet"):
		return fmt.Sprintf("read_parquet(%s)", quote(path))
	case filepath.Base(path) == "u.data" || strings.EqualFold(filepath.Ext(path), ".data"):
		return fmt.Sprintf("read_csv(%s, delim='\\t', header=false, "+
			"columns={'user_id': 'VARCHAR', 'item_id': 'VARCHAR', 'rating': 'DOUBLE', 'ts': 'BIGINT'})", quote(path))
	default:
		return fmt.Sprintf("read_csv_auto(%s, header=true)", quote(path))
	}
}

func open() (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb: %w", err)
	}
	return db, nil
}

// Load reads every rating in path. Users and items get dense IDs in the
// order they first appear.
func Load(ctx context.Context, path string) (*Table, error) {
	db, err := open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	query := "SELECT CAST(user_id AS VARCHAR), CAST(item_id AS VARCHAR), CAST(rating AS DOUBLE) FROM " + source(path)
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query ratings from %s: %w", path, err)
	}
	defer rows.Close()

	t := &Table{}
	users := make(map[string]int)
	items := make(map[string]int)
	for rows.Next() {
		var user, item string
		var rating float64
		if err := rows.Scan(&user, &item, &rating); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}

		uid, ok := users[user]
		if !ok {
			uid = len(t.UserKeys)
			users[user] = uid
			t.UserKeys = append(t.UserKeys, user)
		}
		iid, ok := items[item]
		if !ok {
			iid = len(t.ItemKeys)
			items[item] = iid
			t.ItemKeys = append(t.ItemKeys, item)
		}

		t.Users = append(t.Users, uid)
		t.Items = append(t.Items, iid)
		t.Values = append(t.Values, rating)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read ratings from %s: %w", path, err)
	}
	if t.Len() == 0 {
		return nil, fmt.Errorf("%s holds no ratings", path)
	}

	logging.Info().
		Str("source", path).
		Int("users", t.NumUsers()).
		Int("items", t.NumItems()).
		Int("ratings", t.Len()).
		Float64("mean", t.Mean()).
		Msg("ratings loaded")
	return t, nil
}

// Convert writes the ratings in src to a Parquet file at dst with columns
// user_id, item_id and rating.
func Convert(ctx context.Context, src, dst string) error {
	db, err := open()
	if err != nil {
		return err
	}
	defer db.Close()

	stmt := fmt.Sprintf("COPY (SELECT CAST(user_id AS VARCHAR) AS user_id, CAST(item_id AS VARCHAR) AS item_id, "+
		"CAST(rating AS DOUBLE) AS rating FROM %s) TO %s (FORMAT PARQUET)", source(src), quote(dst))
	if _, err := db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("failed to convert %s to %s: %w", src, dst, err)
	}
	return nil
}
