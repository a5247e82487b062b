package storage

import (
	"errors"
	"fmt"

	log "github.com/abcfe/abcfe-wallet/common/logger"
	"github.com/abcfe/abcfe-wallet/common/utils"
	"github.com/abcfe/abcfe-wallet/config"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"
)

var ErrNotFound = errors.New("storage: not found")

// Store is the key/value surface the vault and preferences need.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	Delete(key []byte) error
	Has(key []byte) (bool, error)
	Close() error
}

type DB struct {
	db *leveldb.DB
}

func InitDB(cfg *config.Config) (*DB, error) {
	dbPath := fmt.Sprintf("%s%s", cfg.DB.Path, "wallet.db")

	// Create DB directory if it does not exist
	if err := utils.EnsureDir(cfg.DB.Path); err != nil {
		log.Error("Failed to create db dir: ", err)
		return nil, err
	}
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		log.Error("Failed to open db: ", err)
		return nil, err
	}

	log.Info("Successfully opened db: ", dbPath)
	return &DB{db: db}, nil
}

// OpenReadOnly opens an existing wallet db without creating or writing it.
func OpenReadOnly(cfg *config.Config) (*DB, error) {
	dbPath := fmt.Sprintf("%s%s", cfg.DB.Path, "wallet.db")
	db, err := leveldb.OpenFile(dbPath, &opt.Options{ReadOnly: true, ErrorIfMissing: true})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", dbPath, err)
	}
	return &DB{db: db}, nil
}

// OpenMemDB opens a LevelDB instance backed by memory.
func OpenMemDB() (*DB, error) {
	db, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, err
	}
	return &DB{db: db}, nil
}

func (d *DB) Get(key []byte) ([]byte, error) {
	v, err := d.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

func (d *DB) Put(key, value []byte) error {
	return d.db.Put(key, value, nil)
}

func (d *DB) Delete(key []byte) error {
	return d.db.Delete(key, nil)
}

func (d *DB) Has(key []byte) (bool, error) {
	return d.db.Has(key, nil)
}

func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// Entry is one stored key with the size of its value.
type Entry struct {
	Key  string
	Size int
}

// Entries lists the keys under prefix in key order.
func (d *DB) Entries(prefix string) ([]Entry, error) {
	iter := d.db.NewIterator(util.BytesPrefix([]byte(prefix)), nil)
	defer iter.Release()

	var entries []Entry
	for iter.Next() {
		entries = append(entries, Entry{Key: string(iter.Key()), Size: len(iter.Value())})
	}
	return entries, iter.Error()
}
