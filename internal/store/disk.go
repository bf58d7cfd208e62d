// Package store keeps the last publication received on every topic on disk.
package store

import (
	"errors"
	"time"

	"github.com/RoanBrand/emqc/internal/model"
	"github.com/dgraph-io/badger"
	pkgerrors "github.com/pkg/errors"
	"github.com/vmihailenco/msgpack/v5"
)

var ErrNotFound = errors.New("no message stored for topic")

var topicPrefix = []byte("topic")

// Record is the latest message on a topic and how many were received in total.
type Record struct {
	Topic    string    `msgpack:"t"`
	Payload  []byte    `msgpack:"p"`
	QoS      uint8     `msgpack:"q"`
	Retain   bool      `msgpack:"r"`
	Received time.Time `msgpack:"at"`
	Count    uint64    `msgpack:"n"`
}

type Inbox struct {
	db *badger.DB
}

func NewInbox(dir string) (*Inbox, error) {
	opts := badger.DefaultOptions
	opts.Dir, opts.ValueDir = dir, dir
	db, err := badger.Open(opts)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "opening store in %s", dir)
	}

	return &Inbox{db: db}, nil
}

func (s *Inbox) Close() error {
	return s.db.Close()
}

func topicKey(topic string) []byte {
	key := make([]byte, 0, len(topicPrefix)+len(topic))
	key = append(key, topicPrefix...)
	return append(key, topic...)
}

func get(txn *badger.Txn, key []byte) (*Record, error) {
	item, err := txn.Get(key)
	if err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}

	val, err := item.Value()
	if err != nil {
		return nil, err
	}

	var r Record
	if err := msgpack.Unmarshal(val, &r); err != nil {
		return nil, pkgerrors.Wrap(err, "corrupt record")
	}
	return &r, nil
}

// Put records m as the latest message on its topic.
func (s *Inbox) Put(m model.Message, at time.Time) error {
	key := topicKey(m.Topic)

	return s.db.Update(func(txn *badger.Txn) error {
		var count uint64
		old, err := get(txn, key)
		switch err {
		case nil:
			count = old.Count
		case ErrNotFound:
		default:
			return err
		}

		val, err := msgpack.Marshal(&Record{
			Topic:    m.Topic,
			Payload:  m.Payload,
			QoS:      uint8(m.QoS),
			Retain:   m.Retain,
			Received: at,
			Count:    count + 1,
		})
		if err != nil {
			return err
		}
		return txn.Set(key, val)
	})
}

func (s *Inbox) Get(topic string) (r *Record, err error) {
	err = s.db.View(func(txn *badger.Txn) error {
		r, err = get(txn, topicKey(topic))
		return err
	})
	return
}

// Load calls iter with every stored record, in topic order.
func (s *Inbox) Load(iter func(*Record)) error {
	return s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(topicPrefix); it.ValidForPrefix(topicPrefix); it.Next() {
			val, err := it.Item().Value()
			if err != nil {
				return err
			}

			var r Record
			if err := msgpack.Unmarshal(val, &r); err != nil {
				return pkgerrors.Wrapf(err, "corrupt record for key %q", it.Item().Key())
			}
			iter(&r)
		}
		return nil
	})
}
