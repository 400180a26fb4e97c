package datalayer

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/rotblauer/globetiles/extent"
	"go.etcd.io/bbolt"
)

// Synthetic returns a fetcher that fabricates a small deterministic texture
// per extent after latency.
func Synthetic(latency time.Duration) Fetcher {
	return FetcherFunc(func(ctx context.Context, layerID string, e extent.Extent) (Texture, error) {
		if latency > 0 {
			t := time.NewTimer(latency)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return Texture{}, ctx.Err()
			case <-t.C:
			}
		}
		return Texture{Key: e.Key(), Data: SyntheticData(layerID, e)}, nil
	})
}

// SyntheticData is the payload Synthetic serves for e.
func SyntheticData(layerID string, e extent.Extent) []byte {
	h := fnv.New64a()
	_, _ = h.Write([]byte(layerID + "/" + e.Key()))
	return h.Sum(nil)
}

// BoltFetcher serves textures from a bbolt database, one bucket per layer.
type BoltFetcher struct {
	db *bbolt.DB
}

func OpenBoltFetcher(path string) (*BoltFetcher, error) {
	db, err := bbolt.Open(path, 0660, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	return &BoltFetcher{db: db}, nil
}

func (b *BoltFetcher) Fetch(ctx context.Context, layerID string, e extent.Extent) (Texture, error) {
	if err := ctx.Err(); err != nil {
		return Texture{}, err
	}
	var out Texture
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(layerID))
		if bucket == nil {
			return fmt.Errorf("%w: layer %s", ErrNoTexture, layerID)
		}
		v := bucket.Get([]byte(e.Key()))
		if v == nil {
			return fmt.Errorf("%w: %s/%s", ErrNoTexture, layerID, e.Key())
		}
		// Values are only valid for the life of the transaction.
		out = Texture{Key: e.Key(), Data: append([]byte(nil), v...)}
		return nil
	})
	return out, err
}

func (b *BoltFetcher) Put(layerID string, e extent.Extent, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(layerID))
		if err != nil {
			return err
		}
		return bucket.Put([]byte(e.Key()), data)
	})
}

// Seed writes textures for every extent under roots down to maxZoom, in one
// transaction, and returns how many were written.
func (b *BoltFetcher) Seed(layerID string, roots []extent.Extent, maxZoom int, data func(extent.Extent) []byte) (int, error) {
	n := 0
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists([]byte(layerID))
		if err != nil {
			return err
		}
		var put func(e extent.Extent) error
		put = func(e extent.Extent) error {
			if e.Zoom() > maxZoom {
				return nil
			}
			if err := bucket.Put([]byte(e.Key()), data(e)); err != nil {
				return err
			}
			n++
			for _, c := range e.Subdivide() {
				if err := put(c); err != nil {
					return err
				}
			}
			return nil
		}
		for _, r := range roots {
			if err := put(r); err != nil {
				return err
			}
		}
		return nil
	})
	return n, err
}

func (b *BoltFetcher) Close() error {
	return b.db.Close()
}
