package learning

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/boltdb/bolt"
	"github.com/facturaIA/invoice-insight/internal/models"
)

var mappingsBucket = []byte("vendor_mappings")

// BoltRepository stores mappings in an embedded bolt file. Bolt allows a
// single writer, so Upsert is atomic without further locking.
type BoltRepository struct {
	db *bolt.DB
}

// OpenBolt opens (or creates) the database at path
func OpenBolt(path string) (*BoltRepository, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(mappingsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}
	return &BoltRepository{db: db}, nil
}

func (r *BoltRepository) Close() error {
	return r.db.Close()
}

func vendorPrefix(normalizedVendor string) []byte {
	return []byte(normalizedVendor + "\x00")
}

func encodeMapping(m models.VendorMapping) ([]byte, error) {
	var val bytes.Buffer
	enc := gob.NewEncoder(&val)
	if err := enc.Encode(m); err != nil {
		return nil, err
	}
	return val.Bytes(), nil
}

func decodeMapping(v []byte) (models.VendorMapping, error) {
	var m models.VendorMapping
	dec := gob.NewDecoder(bytes.NewBuffer(v))
	err := dec.Decode(&m)
	return m, err
}

// forVendor walks every row of one vendor
func forVendor(b *bolt.Bucket, normalizedVendor string, fn func(k []byte, m models.VendorMapping) error) error {
	prefix := vendorPrefix(normalizedVendor)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		m, err := decodeMapping(v)
		if err != nil {
			return fmt.Errorf("failed to decode mapping %q: %w", k, err)
		}
		if err := fn(k, m); err != nil {
			return err
		}
	}
	return nil
}

func (r *BoltRepository) FindByVendor(ctx context.Context, normalizedVendor string, limit int) ([]models.VendorMapping, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := []models.VendorMapping{}
	err := r.db.View(func(tx *bolt.Tx) error {
		return forVendor(tx.Bucket(mappingsBucket), normalizedVendor, func(_ []byte, m models.VendorMapping) error {
			out = append(out, m)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortMappings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *BoltRepository) Upsert(ctx context.Context, obs Observation) (models.VendorMapping, error) {
	if err := ctx.Err(); err != nil {
		return models.VendorMapping{}, err
	}

	var result models.VendorMapping
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingsBucket)
		key := []byte(rowKey(obs.NormalizedVendor, obs.Category))

		if v := b.Get(key); v != nil {
			existing, err := decodeMapping(v)
			if err != nil {
				return fmt.Errorf("failed to decode mapping %q: %w", key, err)
			}
			result = ApplyObservation(&existing, obs)
		} else {
			result = ApplyObservation(nil, obs)
			id, err := b.NextSequence()
			if err != nil {
				return err
			}
			result.ID = int64(id)
		}

		val, err := encodeMapping(result)
		if err != nil {
			return err
		}
		return b.Put(key, val)
	})
	if err != nil {
		return models.VendorMapping{}, fmt.Errorf("failed to upsert mapping: %w", err)
	}
	return result, nil
}

func (r *BoltRepository) DecaySiblings(ctx context.Context, normalizedVendor, winningCategory string, factor float64) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	n := 0
	err := r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(mappingsBucket)
		updates := make(map[string]models.VendorMapping)
		err := forVendor(b, normalizedVendor, func(k []byte, m models.VendorMapping) error {
			if m.Category == winningCategory {
				return nil
			}
			m.Confidence *= factor
			updates[string(k)] = m
			return nil
		})
		if err != nil {
			return err
		}
		// bolt forbids writes while a cursor is iterating
		for k, m := range updates {
			val, err := encodeMapping(m)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(k), val); err != nil {
				return err
			}
		}
		n = len(updates)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to decay mappings: %w", err)
	}
	return n, nil
}

