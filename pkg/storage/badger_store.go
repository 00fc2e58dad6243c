package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"jewelry-scraper/pkg/log"
	"jewelry-scraper/pkg/models"
	"jewelry-scraper/pkg/utils"
)

const (
	seenKeyPrefix  = "seen:"   // canonical product URL keys, empty value
	itemKeyPrefix  = "item:"   // item id keys -> ItemDBEntry JSON
	imageKeyPrefix = "img:"    // image URL keys -> ImageDBEntry JSON
	crawlDBDir     = "item_db" // subdirectory within stateDir per site
)

// BadgerStore implements CrawlStore on BadgerDB. One store exists per site,
// living under its own subdirectory of the state dir.
type BadgerStore struct {
	db       *badger.DB
	log      *logrus.Entry
	keyCount atomic.Int64 // cached key count for O(1) KeyCount
}

// NewBadgerStore opens (or creates) the crawl state database for one site.
// With resume=false any existing state is wiped first, so every canonical
// URL looks new again.
func NewBadgerStore(stateDir, siteKey string, resume bool, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{log: logger}

	dbPath := filepath.Join(stateDir, utils.SanitizeFilename(siteKey)+"_"+crawlDBDir)

	if !resume {
		logger.Warnf("Resume disabled, removing existing state directory: %s", dbPath)
		if err := os.RemoveAll(dbPath); err != nil {
			logger.Errorf("Failed to remove state directory %s: %v", dbPath, err)
		}
	}

	logger.WithFields(logrus.Fields{"path": dbPath, "resume": resume}).Info("Opening crawl state database")

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("cannot create state directory %s: %w", dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewBadgerAdapter(logger.WithField("component", "badgerdb"))).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", dbPath, err)
	}

	if resume {
		count, err := store.countKeys()
		if err != nil {
			logger.Warnf("Failed to count existing keys on resume: %v", err)
		} else {
			store.keyCount.Store(int64(count))
			logger.Infof("Resuming with %d existing keys", count)
		}
	}

	return store, nil
}

// countKeys performs a one-time full key scan, used only when resuming.
func (s *BadgerStore) countKeys() (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return
// badger.ErrConflict; these resolve in microseconds, so a tight loop is
// enough.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkSeen implements SeenStore.
func (s *BadgerStore) MarkSeen(canonicalURL string) (bool, error) {
	if s.db == nil {
		return false, errors.New("crawl store not initialized")
	}
	added := false
	key := []byte(seenKeyPrefix + canonicalURL)

	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			errSet := txn.SetEntry(badger.NewEntry(key, []byte{}))
			if errSet == nil {
				added = true
			}
			return errSet
		}
		return errGet // nil when the key already exists
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB update error in MarkSeen: %v", err)
		return false, fmt.Errorf("%w: marking seen key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if added {
		s.keyCount.Add(1)
	}
	return added, nil
}

// WasSeen implements SeenStore.
func (s *BadgerStore) WasSeen(canonicalURL string) (bool, error) {
	if s.db == nil {
		return false, errors.New("crawl store not initialized")
	}
	key := []byte(seenKeyPrefix + canonicalURL)
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return errGet
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: checking seen key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return found, nil
}

// CheckItem implements ItemStore.
func (s *BadgerStore) CheckItem(id string) (models.ItemStatus, *models.ItemDBEntry, error) {
	status := models.ItemStatusNotFound
	var entry *models.ItemDBEntry
	key := []byte(itemKeyPrefix + id)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting item key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				status = models.ItemStatusPending
				return nil
			}

			var decoded models.ItemDBEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Unreadable ItemDBEntry for key '%s': %v. Treating as pending.", string(key), errJSON)
				status = models.ItemStatusPending
				return nil
			}

			entry = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB view error in CheckItem for key '%s': %v", string(key), errView)
		return models.ItemStatusUnset, nil, errView
	}
	return status, entry, nil
}

// UpdateItem implements ItemStore.
func (s *BadgerStore) UpdateItem(id string, entry *models.ItemDBEntry) error {
	if s.db == nil {
		return errors.New("crawl store not initialized")
	}
	key := []byte(itemKeyPrefix + id)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		wrapped := fmt.Errorf("%w: marshaling ItemDBEntry for key '%s': JSON: %w", utils.ErrParsing, string(key), errJSON)
		s.log.Error(wrapped)
		return wrapped
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB update error in UpdateItem: %v", err)
		return fmt.Errorf("%w: setting item status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}

	s.log.WithFields(logrus.Fields{"item_id": id, "status": entry.Status}).Debug("Item status updated")
	return nil
}

// CheckImage implements ItemStore.
func (s *BadgerStore) CheckImage(imageURL string) (models.ImageStatus, *models.ImageDBEntry, error) {
	status := models.ImageStatusUnset
	var entry *models.ImageDBEntry
	key := []byte(imageKeyPrefix + imageURL)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: getting image key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Image key '%s' has empty value, treating as unseen", string(key))
				return nil
			}

			var decoded models.ImageDBEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Unreadable ImageDBEntry for key '%s': %v. Treating as unseen.", string(key), errJSON)
				return nil
			}

			entry = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB view error in CheckImage for key '%s': %v", string(key), errView)
		return models.ImageStatusUnset, nil, errView
	}
	return status, entry, nil
}

// UpdateImage implements ItemStore.
func (s *BadgerStore) UpdateImage(imageURL string, entry *models.ImageDBEntry) error {
	if s.db == nil {
		return errors.New("crawl store not initialized")
	}
	key := []byte(imageKeyPrefix + imageURL)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		wrapped := fmt.Errorf("%w: marshaling ImageDBEntry for key '%s': JSON: %w", utils.ErrParsing, string(key), errJSON)
		s.log.Error(wrapped)
		return wrapped
	}

	isNew := false
	err := s.dbUpdate(func(txn *badger.Txn) error {
		_, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			isNew = true
		}
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB update error in UpdateImage: %v", err)
		return fmt.Errorf("%w: setting image status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	if isNew {
		s.keyCount.Add(1)
	}
	return nil
}

// KeyCount implements StoreAdmin. Returns the cached count maintained by
// atomic increments on writes.
func (s *BadgerStore) KeyCount() (int, error) {
	return int(s.keyCount.Load()), nil
}

// WriteSeenLog implements StoreAdmin. The file ends up next to the run's
// metadata exports and is handy for eyeballing what a crawl covered.
func (s *BadgerStore) WriteSeenLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed to create seen log '%s': %v", filePath, err)
		return fmt.Errorf("%w: create seen log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	written := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(seenKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			if _, errWrite := writer.WriteString(string(key[len(prefix):]) + "\n"); errWrite != nil {
				return errWrite
			}
			written++
		}
		return nil
	})
	if iterErr != nil {
		s.log.Errorf("Error writing seen log: %v", iterErr)
		return iterErr
	}

	if err := writer.Flush(); err != nil {
		return fmt.Errorf("%w: flushing seen log: %w", utils.ErrFilesystem, err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: syncing seen log: %w", utils.ErrFilesystem, err)
	}

	s.log.Infof("Wrote %d seen URLs to %s", written, filePath)
	return nil
}

// RunGC implements StoreAdmin, running value log garbage collection on a
// ticker until ctx is done.
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				continue
			}

			s.log.Debug("Running BadgerDB value log GC")
			var err error
			for {
				// GC when at least half the value log is reclaimable.
				err = s.db.RunValueLogGC(0.5)
				if err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB GC: %v", ctx.Err())
			return
		}
	}
}

// Close implements StoreAdmin.
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing crawl store: %v", err)
			return err
		}
		s.log.Debug("Crawl store closed")
	}
	return nil
}
