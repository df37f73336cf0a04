/*
Copyright SecureKey Technologies Inc. All Rights Reserved.
SPDX-License-Identifier: Apache-2.0
*/

// Package inbox stores messages received by an agent.
package inbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperledger/aries-framework-go/component/log"
	"github.com/hyperledger/aries-framework-go/spi/storage"

	"github.com/didrelay/didcomm-relay/pkg/didcomm/envelope"
)

const (
	// NameSpace for inbox store.
	NameSpace = "inbox"

	messageTag     = "message"
	readTag        = "read"
	messageKeyPref = "msg_"
)

var logger = log.New("didcomm-relay/store/inbox")

var (
	// ErrMessageNotFound is returned for unknown message ids.
	ErrMessageNotFound = errors.New("message not found")
	// ErrMessageExists is returned when a message id is added twice.
	ErrMessageExists = errors.New("message already stored")
)

// ReceivedMessage is a verified and decrypted message.
type ReceivedMessage struct {
	ID          string             `json:"id"`
	Type        string             `json:"type"`
	From        string             `json:"from"`
	To          []string           `json:"to"`
	CreatedTime envelope.Timestamp `json:"created_time"`
	Thid        string             `json:"thid,omitempty"`
	Body        json.RawMessage    `json:"body"`
	ReceivedAt  string             `json:"received_at"`
	Read        bool               `json:"read"`
}

type record struct {
	Seq     uint64           `json:"seq"`
	Message *ReceivedMessage `json:"message"`
}

// Store keeps received messages in arrival order.
type Store struct {
	store storage.Store

	mu  sync.Mutex
	seq uint64
}

// New returns an inbox persisted in a store opened from provider.
func New(provider storage.Provider) (*Store, error) {
	store, err := provider.OpenStore(NameSpace)
	if err != nil {
		return nil, fmt.Errorf("failed to open inbox store: %w", err)
	}

	err = provider.SetStoreConfig(NameSpace, storage.StoreConfiguration{TagNames: []string{messageTag, readTag}})
	if err != nil {
		return nil, fmt.Errorf("failed to set store configuration: %w", err)
	}

	s := &Store{store: store}

	records, err := s.query(messageTag)
	if err != nil {
		return nil, err
	}

	for _, r := range records {
		if r.Seq > s.seq {
			s.seq = r.Seq
		}
	}

	return s, nil
}

// Add stores msg after every message already stored.
func (s *Store) Add(msg *ReceivedMessage) error {
	if msg == nil || msg.ID == "" {
		return errors.New("message id is mandatory")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.store.Get(messageKey(msg.ID))
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMessageExists, msg.ID)
	}

	if !errors.Is(err, storage.ErrDataNotFound) {
		return fmt.Errorf("failed to get message: %w", err)
	}

	s.seq++

	return s.put(&record{Seq: s.seq, Message: msg})
}

// Get returns one message.
func (s *Store) Get(id string) (*ReceivedMessage, error) {
	r, err := s.get(id)
	if err != nil {
		return nil, err
	}

	return r.Message, nil
}

// Has reports whether a message with id is stored.
func (s *Store) Has(id string) (bool, error) {
	_, err := s.store.Get(messageKey(id))
	if errors.Is(err, storage.ErrDataNotFound) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to get message: %w", err)
	}

	return true, nil
}

// List returns every message in arrival order.
func (s *Store) List() ([]*ReceivedMessage, error) {
	records, err := s.query(messageTag)
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Seq < records[j].Seq })

	msgs := make([]*ReceivedMessage, len(records))
	for i, r := range records {
		msgs[i] = r.Message
	}

	return msgs, nil
}

// MarkAsRead marks a message read. Marking a read message again is a no-op.
func (s *Store) MarkAsRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, err := s.get(id)
	if err != nil {
		return err
	}

	if r.Message.Read {
		return nil
	}

	r.Message.Read = true

	return s.put(r)
}

// UnreadCount returns the number of messages not marked read.
func (s *Store) UnreadCount() (int, error) {
	records, err := s.query(fmt.Sprintf("%s:%t", readTag, false))
	if err != nil {
		return 0, err
	}

	return len(records), nil
}

func (s *Store) get(id string) (*record, error) {
	b, err := s.store.Get(messageKey(id))
	if errors.Is(err, storage.ErrDataNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrMessageNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	r := &record{}
	if err := json.Unmarshal(b, r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal message %s: %w", id, err)
	}

	return r, nil
}

func (s *Store) put(r *record) error {
	b, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	tags := []storage.Tag{
		{Name: messageTag},
		{Name: readTag, Value: fmt.Sprintf("%t", r.Message.Read)},
	}

	if err := s.store.Put(messageKey(r.Message.ID), b, tags...); err != nil {
		return fmt.Errorf("failed to put message: %w", err)
	}

	return nil
}

func (s *Store) query(expression string) ([]*record, error) {
	itr, err := s.store.Query(expression)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbox: %w", err)
	}

	defer func() {
		errClose := itr.Close()
		if errClose != nil {
			logger.Errorf("failed to close iterator: %s", errClose.Error())
		}
	}()

	var records []*record

	more, err := itr.Next()
	if err != nil {
		return nil, fmt.Errorf("failed to read inbox: %w", err)
	}

	for more {
		value, err := itr.Value()
		if err != nil {
			return nil, fmt.Errorf("failed to read inbox: %w", err)
		}

		r := &record{}
		if err := json.Unmarshal(value, r); err != nil {
			return nil, fmt.Errorf("failed to unmarshal message: %w", err)
		}

		records = append(records, r)

		more, err = itr.Next()
		if err != nil {
			return nil, fmt.Errorf("failed to read inbox: %w", err)
		}
	}

	return records, nil
}

func messageKey(id string) string {
	return messageKeyPref + id
}
