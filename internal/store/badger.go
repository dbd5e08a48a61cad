package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/smartflow/crm-chat/internal/model"
	"github.com/smartflow/crm-chat/pkg/logger"
	"github.com/smartflow/crm-chat/pkg/metrics"
	"github.com/smartflow/crm-chat/pkg/tracing"
)

const maxConflictRetries = 5

// Key layout:
//
//	msg\x00{id}                                  -> JSON message
//	conv\x00{low}\x00{high}\x00{ts19}-{id}        -> empty (conversation index)
//	pend\x00{receiver}\x00{ts19}-{id}             -> empty (status sent only)
const sep = "\x00"

// Options configures the Badger database.
type Options struct {
	Path     string
	InMemory bool
}

// Open opens a Badger database routed through the service logger.
func Open(opts Options, log *logger.Logger) (*badger.DB, error) {
	bopts := badger.DefaultOptions(opts.Path)
	if opts.InMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	bopts = bopts.WithLogger(badgerLogger{log.Sugar()}).WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return db, nil
}

// BadgerStore is a Store backed by BadgerDB.
type BadgerStore struct {
	db     *badger.DB
	tracer trace.Tracer
	now    func() time.Time
}

// NewBadgerStore creates a message store on an open database.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{
		db:     db,
		tracer: tracing.Tracer("store"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Create persists a new message with status sent.
func (s *BadgerStore) Create(ctx context.Context, sender, receiver, content string) (*model.Message, error) {
	_, span := s.tracer.Start(ctx, "store.Create")
	defer span.End()
	defer observe("create", time.Now())

	if err := model.ValidateIdentity(sender); err != nil {
		return nil, err
	}
	if err := model.ValidateIdentity(receiver); err != nil {
		return nil, err
	}
	if sender == receiver {
		return nil, model.ErrSameParticipant
	}
	if content == "" {
		return nil, model.ErrInvalidMessage
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("failed to generate message id: %w", err)
	}

	msg := &model.Message{
		ID:        id.String(),
		Sender:    sender,
		Receiver:  receiver,
		Content:   content,
		CreatedAt: s.now(),
		Status:    model.StatusSent,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}

	cursor := cursorFor(msg.CreatedAt, msg.ID)
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(messageKey(msg.ID), data); err != nil {
			return err
		}
		if err := txn.Set(conversationKey(sender, receiver, cursor), nil); err != nil {
			return err
		}
		return txn.Set(pendingKey(receiver, cursor), nil)
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to store message: %w", err)
	}

	span.SetAttributes(attribute.String("message.id", msg.ID))
	return msg, nil
}

// Get returns the message with the given id.
func (s *BadgerStore) Get(ctx context.Context, id string) (*model.Message, error) {
	_, span := s.tracer.Start(ctx, "store.Get", trace.WithAttributes(attribute.String("message.id", id)))
	defer span.End()
	defer observe("get", time.Now())

	var msg *model.Message
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		msg, err = readMessage(txn, id)
		return err
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			recordError(span, err)
		}
		return nil, err
	}
	return msg, nil
}

// SetStatus moves a message forward to status inside a single transaction.
// Concurrent transitions of the same message conflict in Badger and are retried,
// so the stored status never moves backwards.
func (s *BadgerStore) SetStatus(ctx context.Context, id string, status model.Status) (*model.Message, bool, error) {
	_, span := s.tracer.Start(ctx, "store.SetStatus", trace.WithAttributes(
		attribute.String("message.id", id),
		attribute.String("message.status", string(status)),
	))
	defer span.End()
	defer observe("set_status", time.Now())

	if !status.Valid() {
		return nil, false, ErrInvalidStatus
	}

	var (
		result  *model.Message
		changed bool
		err     error
	)
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		result, changed, err = s.setStatusOnce(id, status)
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			recordError(span, err)
		}
		return nil, false, err
	}

	span.SetAttributes(attribute.Bool("message.changed", changed))
	return result, changed, nil
}

func (s *BadgerStore) setStatusOnce(id string, status model.Status) (*model.Message, bool, error) {
	var (
		result  *model.Message
		changed bool
	)
	err := s.db.Update(func(txn *badger.Txn) error {
		msg, err := readMessage(txn, id)
		if err != nil {
			return err
		}
		result = msg
		if status.Rank() <= msg.Status.Rank() {
			return nil
		}

		previous := msg.Status
		msg.Status = status
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		if err := txn.Set(messageKey(id), data); err != nil {
			return err
		}
		if previous == model.StatusSent {
			if err := txn.Delete(pendingKey(msg.Receiver, cursorFor(msg.CreatedAt, msg.ID))); err != nil {
				return err
			}
		}
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

// FindConversation returns messages between a and b, oldest first. With a
// positive limit it returns the newest page before page.Before.
func (s *BadgerStore) FindConversation(ctx context.Context, a, b string, page Page) (*model.HistoryPage, error) {
	_, span := s.tracer.Start(ctx, "store.FindConversation", trace.WithAttributes(
		attribute.Int("page.limit", page.Limit),
	))
	defer span.End()
	defer observe("find_conversation", time.Now())

	if err := model.ValidateIdentity(a); err != nil {
		return nil, err
	}
	if err := model.ValidateIdentity(b); err != nil {
		return nil, err
	}
	if page.Before != "" {
		if err := parseCursor(page.Before); err != nil {
			return nil, err
		}
	}

	prefix := conversationPrefix(a, b)
	result := &model.HistoryPage{Messages: []model.Message{}}

	err := s.db.View(func(txn *badger.Txn) error {
		cursors, hasMore := scanConversation(txn, prefix, page)

		for _, c := range cursors {
			msg, err := readMessage(txn, idFromCursor(c))
			if err != nil {
				return err
			}
			result.Messages = append(result.Messages, *msg)
		}
		result.HasMore = hasMore
		if hasMore && len(cursors) > 0 {
			result.NextCursor = cursors[0]
		}
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to read conversation: %w", err)
	}

	span.SetAttributes(attribute.Int("page.size", len(result.Messages)))
	return result, nil
}

// scanConversation returns index cursors in ascending order and whether older
// entries remain beyond the page.
func scanConversation(txn *badger.Txn, prefix []byte, page Page) ([]string, bool) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = prefix

	if page.Limit <= 0 && page.Before == "" {
		it := txn.NewIterator(opts)
		defer it.Close()

		var cursors []string
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			cursors = append(cursors, string(it.Item().Key()[len(prefix):]))
		}
		return cursors, false
	}

	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	var seek []byte
	if page.Before == "" {
		seek = append(append([]byte{}, prefix...), 0xFF)
	} else {
		seek = append(append([]byte{}, prefix...), page.Before...)
	}

	var newestFirst []string
	hasMore := false
	for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
		c := string(it.Item().Key()[len(prefix):])
		if c == page.Before {
			continue
		}
		if page.Limit > 0 && len(newestFirst) == page.Limit {
			hasMore = true
			break
		}
		newestFirst = append(newestFirst, c)
	}

	cursors := lo.Map(newestFirst, func(_ string, i int) string {
		return newestFirst[len(newestFirst)-1-i]
	})
	return cursors, hasMore
}

// Pending returns sent messages addressed to receiver, oldest first.
func (s *BadgerStore) Pending(ctx context.Context, receiver string) ([]model.Message, error) {
	_, span := s.tracer.Start(ctx, "store.Pending")
	defer span.End()
	defer observe("pending", time.Now())

	if err := model.ValidateIdentity(receiver); err != nil {
		return nil, err
	}

	prefix := []byte("pend" + sep + receiver + sep)
	var pending []model.Message

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		var ids []string
		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			ids = append(ids, idFromCursor(string(it.Item().Key()[len(prefix):])))
		}

		messages := make([]model.Message, 0, len(ids))
		for _, id := range ids {
			msg, err := readMessage(txn, id)
			if err != nil {
				return err
			}
			messages = append(messages, *msg)
		}
		pending = lo.Filter(messages, func(m model.Message, _ int) bool {
			return m.Status == model.StatusSent
		})
		return nil
	})
	if err != nil {
		recordError(span, err)
		return nil, fmt.Errorf("failed to read pending messages: %w", err)
	}
	return pending, nil
}

func readMessage(txn *badger.Txn, id string) (*model.Message, error) {
	item, err := txn.Get(messageKey(id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var msg model.Message
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode message %s: %w", id, err)
	}
	return &msg, nil
}

func messageKey(id string) []byte {
	return []byte("msg" + sep + id)
}

func conversationPrefix(a, b string) []byte {
	return []byte("conv" + sep + model.PairKey(a, b) + sep)
}

func conversationKey(a, b, cursor string) []byte {
	return append(conversationPrefix(a, b), cursor...)
}

func pendingKey(receiver, cursor string) []byte {
	return []byte("pend" + sep + receiver + sep + cursor)
}

func idFromCursor(cursor string) string {
	return cursor[20:]
}

func observe(op string, start time.Time) {
	metrics.RecordStoreOp(op, time.Since(start).Seconds())
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
