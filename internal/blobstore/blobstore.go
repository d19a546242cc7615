// Package blobstore implements C1: content-addressable byte storage with
// reference counting, grounded on the reference codebase's
// internal/memory/sqlite.go transaction idiom (BeginTx + deferred Rollback +
// Commit) against the same database/sql handle the event store uses.
package blobstore

import (
	"bytes"
	"compress/gzip"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"io"

	"github.com/google/uuid"
	"github.com/kilnlabs/sessiond/internal/engineerr"
	"github.com/kilnlabs/sessiond/internal/model"
	"github.com/kilnlabs/sessiond/internal/obslog"
)

// compressionThreshold is the size above which content is gzip-compressed
// before being written; below it the cost of compression isn't worth it.
const compressionThreshold = 512

// Store is the blob store. It participates in the caller's transaction when
// a non-nil *sql.Tx is passed, and runs directly against the database handle
// otherwise.
type Store struct {
	db  *sql.DB
	log *obslog.Logger
}

// New builds a Store over an already-migrated database handle.
func New(db *sql.DB, log *obslog.Logger) *Store {
	return &Store{db: db, log: log.WithComponent("blobstore")}
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Put hashes content; if the hash already exists it increments ref_count and
// returns the existing id, otherwise it inserts a new row with ref_count=1.
func (s *Store) Put(ctx context.Context, tx *sql.Tx, content []byte, mime string) (string, error) {
	q := s.querier(tx)
	hash := contentHash(content)

	var existingID string
	err := q.QueryRowContext(ctx, `SELECT id FROM blobs WHERE hash = ?`, hash).Scan(&existingID)
	switch {
	case err == nil:
		if _, err := q.ExecContext(ctx, `UPDATE blobs SET ref_count = ref_count + 1 WHERE id = ?`, existingID); err != nil {
			return "", engineerr.StorageErr("increment blob refcount", err)
		}
		return existingID, nil
	case !errors.Is(err, sql.ErrNoRows):
		return "", engineerr.StorageErr("lookup blob by hash", err)
	}

	stored, compression := maybeCompress(content)
	id := uuid.NewString()
	_, err = q.ExecContext(ctx, `
		INSERT INTO blobs (id, hash, content, mime_type, size_original, size_compressed, compression, ref_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, 1)`,
		id, hash, stored, mime, len(content), len(stored), compression)
	if err != nil {
		return "", engineerr.StorageErr("insert blob", err)
	}
	return id, nil
}

// Get returns the decompressed content of a blob, or NotFound.
func (s *Store) Get(ctx context.Context, blobID string) (*model.Blob, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, hash, content, mime_type, size_original, size_compressed, compression, ref_count
		FROM blobs WHERE id = ?`, blobID)

	var b model.Blob
	var stored []byte
	if err := row.Scan(&b.ID, &b.Hash, &stored, &b.MimeType, &b.SizeOriginal, &b.SizeCompressed, &b.Compression, &b.RefCount); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, engineerr.NotFound("blob", blobID)
		}
		return nil, engineerr.StorageErr("get blob", err)
	}
	content, err := decompress(stored, b.Compression)
	if err != nil {
		return nil, engineerr.Internal("decompress blob", err)
	}
	b.Content = content
	return &b, nil
}

// Acquire increments a blob's ref_count explicitly (used when reassigning
// ownership of a blob reference between events).
func (s *Store) Acquire(ctx context.Context, tx *sql.Tx, blobID string) error {
	q := s.querier(tx)
	res, err := q.ExecContext(ctx, `UPDATE blobs SET ref_count = ref_count + 1 WHERE id = ?`, blobID)
	if err != nil {
		return engineerr.StorageErr("acquire blob", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return engineerr.NotFound("blob", blobID)
	}
	return nil
}

// Release decrements a blob's ref_count explicitly. A ref_count that would go
// negative is a fatal invariant violation and is logged as such rather than
// silently clamped.
func (s *Store) Release(ctx context.Context, tx *sql.Tx, blobID string) error {
	q := s.querier(tx)
	var current int64
	if err := q.QueryRowContext(ctx, `SELECT ref_count FROM blobs WHERE id = ?`, blobID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return engineerr.NotFound("blob", blobID)
		}
		return engineerr.StorageErr("read blob refcount", err)
	}
	if current <= 0 {
		s.log.Error("blob refcount would go negative", "blob_id", blobID, "current", current)
		return engineerr.Internal(fmt.Sprintf("blob %s refcount invariant violated", blobID), nil)
	}
	if _, err := q.ExecContext(ctx, `UPDATE blobs SET ref_count = ref_count - 1 WHERE id = ?`, blobID); err != nil {
		return engineerr.StorageErr("release blob", err)
	}
	return nil
}

// GCCandidates enumerates blobs eligible for reclamation (ref_count <= 0);
// reclamation itself is a separate, explicit maintenance step (cmd/sessiond gc).
func (s *Store) GCCandidates(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM blobs WHERE ref_count <= 0`)
	if err != nil {
		return nil, engineerr.StorageErr("list gc candidates", err)
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, engineerr.StorageErr("scan gc candidate", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Reclaim deletes blobs whose ref_count is <= 0, returning how many were removed.
func (s *Store) Reclaim(ctx context.Context, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, engineerr.StorageErr("begin gc transaction", err)
	}
	defer tx.Rollback()

	removed := 0
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE id = ? AND ref_count <= 0`, id)
		if err != nil {
			return removed, engineerr.StorageErr("delete blob", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			removed += int(n)
		}
	}
	if err := tx.Commit(); err != nil {
		return removed, engineerr.StorageErr("commit gc transaction", err)
	}
	return removed, nil
}

func (s *Store) querier(tx *sql.Tx) querier {
	if tx != nil {
		return tx
	}
	return s.db
}

func contentHash(content []byte) string {
	h := fnv.New128a()
	h.Write(content)
	return fmt.Sprintf("%x", h.Sum(nil))
}

func maybeCompress(content []byte) ([]byte, string) {
	if len(content) < compressionThreshold {
		return content, "none"
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(content); err != nil {
		return content, "none"
	}
	if err := w.Close(); err != nil {
		return content, "none"
	}
	if buf.Len() >= len(content) {
		return content, "none"
	}
	return buf.Bytes(), "gzip"
}

func decompress(stored []byte, compression string) ([]byte, error) {
	switch compression {
	case "", "none":
		return stored, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(stored))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	default:
		return nil, fmt.Errorf("unknown compression tag %q", compression)
	}
}
