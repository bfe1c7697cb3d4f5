package database

import (
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"go.gazette.dev/docdb/blobstore"
	"go.gazette.dev/docdb/metrics"
)

// Compact makes the bodies of non-current revisions unavailable, and
// garbage-collects blobs no longer referenced by any revision. It returns
// the number of collected blobs. Compact may not be called within a
// transaction.
func (db *Database) Compact() (int, error) {
	db.exec.assertOwned()

	if db.level != 0 {
		return 0, errors.WithMessage(ErrTransaction, "cannot compact within a transaction")
	}
	var keep = make(map[blobstore.Key]struct{})

	var err = db.InTransaction(func() error {
		if _, err := db.store.Exec(`UPDATE revs SET body_ref = NULL WHERE is_current = FALSE;`); err != nil {
			return errors.WithMessage(err, "compacting revisions")
		}
		rows, err := db.store.Query(`SELECT DISTINCT body_ref FROM revs WHERE body_ref IS NOT NULL;`)
		if err != nil {
			return errors.WithMessage(err, "querying body references")
		}
		defer rows.Close()

		for rows.Next() {
			var ref string
			if err = rows.Scan(&ref); err != nil {
				return err
			}
			keep[blobstore.Key(ref)] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return 0, err
	}

	// Blobs are collected only after the compaction commits.
	n, err := db.blobs.GarbageCollect(keep)
	if err != nil {
		return n, errors.WithMessage(err, "collecting blobs")
	}
	metrics.DocDBBlobsCollectedTotal.Add(float64(n))

	log.WithFields(log.Fields{
		"collected": n,
		"retained":  len(keep),
	}).Info("compacted database")

	return n, nil
}
