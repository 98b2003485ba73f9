package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

//go:embed scripts/initdb.sql
var bootstrapFS embed.FS

// ErrEmbedDimMismatch means the collection table was created for a different
// embedding model.
var ErrEmbedDimMismatch = errors.New("embedding dimension mismatch")

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// Schema parameters baked into initdb.sql.
type Schema struct {
	Collection string // chunk table name
	EmbedDim   int
}

func (s Schema) validate() error {
	if !identRe.MatchString(s.Collection) {
		return fmt.Errorf("collection %q is not a valid table name", s.Collection)
	}
	if s.EmbedDim <= 0 {
		return fmt.Errorf("embedding dimension must be positive, got %d", s.EmbedDim)
	}
	return nil
}

func renderSchema(raw string, s Schema) string {
	return strings.NewReplacer(
		"{{COLLECTION}}", s.Collection,
		"{{EMBED_DIM}}", strconv.Itoa(s.EmbedDim),
	).Replace(raw)
}

// EnsureBootstrapped applies initdb.sql, which is idempotent and takes an
// advisory lock, so a new collection name on an existing database still gets
// its table. It then checks that the collection's embedding column has the
// configured dimension.
func EnsureBootstrapped(ctx context.Context, db *sql.DB, s Schema) error {
	if err := s.validate(); err != nil {
		return err
	}

	ctxBoot, cancel := context.WithTimeout(ctx, 3*time.Minute)
	defer cancel()

	if err := runBootstrap(ctxBoot, db, s); err != nil {
		return err
	}

	var dim int
	err := db.QueryRowContext(ctxBoot, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = $1::regclass AND attname = 'embedding' AND NOT attisdropped`,
		s.Collection).
		Scan(&dim)
	if err != nil {
		return fmt.Errorf("embedding column check on %s failed: %w", s.Collection, err)
	}
	return checkEmbedDim(s.Collection, dim, s.EmbedDim)
}

// checkEmbedDim compares the vector(n) modifier of an existing column with
// the configured dimension.
func checkEmbedDim(table string, got, want int) error {
	if got != want {
		return fmt.Errorf("%w: %s.embedding is vector(%d), configured dimension is %d", ErrEmbedDimMismatch, table, got, want)
	}
	return nil
}

func runBootstrap(ctx context.Context, db *sql.DB, s Schema) error {
	sqlBytes, err := bootstrapFS.ReadFile("scripts/initdb.sql")
	if err != nil {
		return fmt.Errorf("read initdb.sql: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, renderSchema(string(sqlBytes), s)); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("exec bootstrap: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit bootstrap: %w", err)
	}
	return nil
}
