package review

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"
)

const (
	bucketName = "reviews"
	// kindBucketName holds one nested bucket per failure kind, keyed by review ID
	kindBucketName = "reviews_by_kind"
)

var (
	// ErrNotFound is returned when no review has the requested ID
	ErrNotFound = errors.New("review not found")
	// ErrInvalidKind is returned when listing by a kind that is never queued
	ErrInvalidKind = errors.New("invalid review kind")
)

// DB defines the interface for database operations
type DB interface {
	// SaveReview saves a review to the database
	SaveReview(review *Review) error

	// GetReview retrieves a review by ID
	GetReview(id string) (*Review, error)

	// ListReviews returns all reviews, newest first
	ListReviews() ([]*Review, error)

	// ListReviewsByKind returns the reviews of one failure kind, newest first
	ListReviewsByKind(kind string) ([]*Review, error)

	// CountByKind returns the number of reviews per failure kind
	CountByKind() (map[string]int, error)

	// DeleteReview removes a review from the database
	DeleteReview(id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{bucketName, kindBucketName} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// SaveReview saves a review to the database and indexes it by kind
func (b *BoltDB) SaveReview(review *Review) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data, err := json.Marshal(review)
		if err != nil {
			return fmt.Errorf("marshaling review: %w", err)
		}

		// A re-saved review may have changed kind
		if err := unindex(tx, bucket.Get([]byte(review.ID))); err != nil {
			return err
		}
		if err := bucket.Put([]byte(review.ID), data); err != nil {
			return err
		}

		kinds, err := tx.Bucket([]byte(kindBucketName)).CreateBucketIfNotExists([]byte(kindKey(review.Kind)))
		if err != nil {
			return fmt.Errorf("creating kind bucket: %w", err)
		}
		return kinds.Put([]byte(review.ID), nil)
	})
}

// unindex removes a stored review from the kind index. data may be nil.
func unindex(tx *bbolt.Tx, data []byte) error {
	if data == nil {
		return nil
	}
	var old Review
	if err := json.Unmarshal(data, &old); err != nil {
		return fmt.Errorf("unmarshaling review: %w", err)
	}
	kinds := tx.Bucket([]byte(kindBucketName)).Bucket([]byte(kindKey(old.Kind)))
	if kinds == nil {
		return nil
	}
	return kinds.Delete([]byte(old.ID))
}

// kindKey names the index bucket of kind; bbolt does not allow empty keys
func kindKey(kind string) string {
	if kind == "" {
		return "unknown"
	}
	return kind
}

// GetReview retrieves a review by ID
func (b *BoltDB) GetReview(id string) (*Review, error) {
	var review *Review
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &review)
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// ListReviews returns all reviews, newest first
func (b *BoltDB) ListReviews() ([]*Review, error) {
	reviews := make([]*Review, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		return bucket.ForEach(func(k, v []byte) error {
			var review Review
			if err := json.Unmarshal(v, &review); err != nil {
				return fmt.Errorf("unmarshaling review: %w", err)
			}
			reviews = append(reviews, &review)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(reviews)
	return reviews, nil
}

// ListReviewsByKind returns the reviews of one failure kind, newest first
func (b *BoltDB) ListReviewsByKind(kind string) ([]*Review, error) {
	reviews := make([]*Review, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		kinds := tx.Bucket([]byte(kindBucketName)).Bucket([]byte(kindKey(kind)))
		if kinds == nil {
			return nil
		}
		bucket := tx.Bucket([]byte(bucketName))
		return kinds.ForEach(func(k, _ []byte) error {
			data := bucket.Get(k)
			if data == nil {
				return nil
			}
			var review Review
			if err := json.Unmarshal(data, &review); err != nil {
				return fmt.Errorf("unmarshaling review: %w", err)
			}
			reviews = append(reviews, &review)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sortNewestFirst(reviews)
	return reviews, nil
}

// CountByKind returns the number of reviews per failure kind
func (b *BoltDB) CountByKind() (map[string]int, error) {
	counts := make(map[string]int)
	err := b.db.View(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(kindBucketName))
		return index.ForEach(func(k, v []byte) error {
			// Nested buckets have nil values
			if v != nil {
				return nil
			}
			n := 0
			if err := index.Bucket(k).ForEach(func(_, _ []byte) error {
				n++
				return nil
			}); err != nil {
				return err
			}
			if n > 0 {
				counts[string(k)] = n
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return counts, nil
}

func sortNewestFirst(reviews []*Review) {
	sort.SliceStable(reviews, func(i, j int) bool {
		return reviews[i].CreatedAt.After(reviews[j].CreatedAt)
	})
}

// DeleteReview removes a review and its index entry from the database
func (b *BoltDB) DeleteReview(id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(bucketName))
		if err := unindex(tx, bucket.Get([]byte(id))); err != nil {
			return err
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
