package session

import (
	"context"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/samcharles93/talkloop/internal/lm"
	"github.com/samcharles93/talkloop/internal/logger"
)

// BadgerOptions configures a BadgerStore.
type BadgerOptions struct {
	// Dir holds the database files. Required unless InMemory is set.
	Dir string
	// InMemory keeps the database in memory only.
	InMemory bool
	// Name selects the session within the database.
	Name string
	// Capacity bounds the number of tokens Load accepts; 0 disables the check.
	Capacity int
	Logger   logger.Logger
}

// BadgerStore keeps sessions as encoded payloads under "session/<name>".
// Badger holds its own directory lock, so a second process fails at open.
type BadgerStore struct {
	db       *badger.DB
	key      []byte
	capacity int
}

func OpenBadger(opts BadgerOptions) (*BadgerStore, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("session: badger dir is required")
	}
	if opts.Name == "" {
		return nil, errors.New("session: session name is required")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	dbOpts := badger.DefaultOptions(opts.Dir).WithLogger(badgerLogger{log: logger.Component(log, "badger")})
	if opts.InMemory {
		dbOpts = dbOpts.WithInMemory(true)
	}
	db, err := badger.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("session: open badger %s: %w", opts.Dir, err)
	}
	return &BadgerStore{db: db, key: []byte("session/" + opts.Name), capacity: opts.Capacity}, nil
}

func (s *BadgerStore) Load(_ context.Context) ([]lm.Token, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, s.key)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %s: %w", s.key, err)
	}
	tokens, err := Decode(raw, s.capacity)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.key, err)
	}
	return tokens, nil
}

// Save overwrites the session in a single transaction.
func (s *BadgerStore) Save(_ context.Context, tokens []lm.Token) error {
	payload := Encode(tokens)
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key, payload)
	})
	if err != nil {
		return fmt.Errorf("session: set %s: %w", s.key, err)
	}
	return nil
}

func (s *BadgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// badgerLogger routes badger's printf-style logging to a Logger, demoting
// its chatty info output to debug.
type badgerLogger struct {
	log logger.Logger
}

func (b badgerLogger) Errorf(f string, v ...any)   { b.log.Error(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Warningf(f string, v ...any) { b.log.Warn(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Infof(f string, v ...any)    { b.log.Debug(fmt.Sprintf(f, v...)) }
func (b badgerLogger) Debugf(f string, v ...any)   { b.log.Debug(fmt.Sprintf(f, v...)) }
