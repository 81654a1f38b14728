package pebbledb

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log"
	"path/filepath"

	"github.com/anomaly-tools/tx-anomaly-detector/entities"
	"github.com/cockroachdb/pebble"
	"github.com/pkg/errors"
)

const (
	scanStatusKey     = 0x00
	scannedHeightsKey = 0x01
)

type Store struct {
	db *pebble.DB
}

func NewScanStore(storeDir string) (*Store, error) {
	db, err := pebble.Open(filepath.Join(storeDir, "anomaly-detector-store"), &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("opening pebble db: %v", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) SetScanStatus(status entities.ScanStatus) error {
	value, err := json.Marshal(status)
	if err != nil {
		return errors.Wrap(err, "marshalling scan status")
	}

	err = s.db.Set([]byte{scanStatusKey}, value, pebble.Sync)
	if err != nil {
		return errors.Wrap(err, "setting scan status")
	}
	return nil
}

func (s *Store) GetScanStatus() (entities.ScanStatus, error) {
	value, closer, err := s.db.Get([]byte{scanStatusKey})
	if errors.Is(err, pebble.ErrNotFound) {
		log.Printf("[WARN] no scan status stored yet.")
		return entities.ScanStatus{}, entities.ErrStoreEntityNotFound
	}
	if err != nil {
		return entities.ScanStatus{}, errors.Wrap(err, "getting scan status")
	}
	defer closer.Close()

	var status entities.ScanStatus
	err = json.Unmarshal(value, &status)
	if err != nil {
		return entities.ScanStatus{}, errors.Wrap(err, "unmarshalling scan status")
	}
	return status, nil
}

// AddScannedHeights records block heights as scanned. Heights that are already recorded are kept.
func (s *Store) AddScannedHeights(heights []uint64) error {
	if len(heights) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for _, height := range heights {
		err := batch.Set(scannedHeightKey(height), nil, nil)
		if err != nil {
			return errors.Wrapf(err, "adding height [%d] to batch", height)
		}
	}

	err := batch.Commit(pebble.Sync)
	if err != nil {
		return errors.Wrapf(err, "committing [%d] scanned heights", len(heights))
	}
	return nil
}

// GetScannedHeights returns all recorded heights in ascending order.
func (s *Store) GetScannedHeights() ([]uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{scannedHeightsKey},
		UpperBound: []byte{scannedHeightsKey + 1},
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating iterator")
	}
	defer iter.Close()

	heights := make([]uint64, 0) // empty array is default return value
	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		if len(key) != 9 {
			return nil, fmt.Errorf("invalid scanned height key [%x]", key)
		}
		heights = append(heights, binary.BigEndian.Uint64(key[1:]))
	}
	if err := iter.Error(); err != nil {
		return nil, errors.Wrap(err, "iterating scanned heights")
	}

	return heights, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func scannedHeightKey(height uint64) []byte {
	key := []byte{scannedHeightsKey}
	return binary.BigEndian.AppendUint64(key, height)
}
