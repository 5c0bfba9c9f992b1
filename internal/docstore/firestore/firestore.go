// Package fsstore backs the docstore interface with Cloud Firestore, the
// database the student-facing app writes to.
package fsstore

import (
	"context"
	"errors"
	"fmt"

	"bibliopanel/internal/docstore"
	"bibliopanel/internal/logger"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Store implements docstore.Store.
type Store struct {
	client *firestore.Client
}

// Open initialises a Firebase app for projectID and returns its Firestore
// client. An empty credentialsFile uses application default credentials, and
// FIRESTORE_EMULATOR_HOST is honoured by the client library.
func Open(ctx context.Context, projectID, credentialsFile string) (*Store, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialize firebase app: %w", err)
	}
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("create firestore client: %w", err)
	}
	return &Store{client: client}, nil
}

// New wraps an existing client.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

func mapError(err error, collection, id string) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%s/%s: %w", collection, id, docstore.ErrNotFound)
	case codes.Aborted, codes.FailedPrecondition:
		return fmt.Errorf("%s/%s: %w: %v", collection, id, docstore.ErrConflict, err)
	default:
		return err
	}
}

func toSnapshot(doc *firestore.DocumentSnapshot) *docstore.Snapshot {
	return &docstore.Snapshot{
		Collection: doc.Ref.Parent.ID,
		ID:         doc.Ref.ID,
		Data:       doc.Data(),
		Version:    doc.UpdateTime.UnixNano(),
		UpdateTime: doc.UpdateTime,
	}
}

func toSnapshots(docs []*firestore.DocumentSnapshot) []*docstore.Snapshot {
	out := make([]*docstore.Snapshot, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toSnapshot(doc))
	}
	return out
}

func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	doc, err := s.client.Collection(collection).Doc(id).Get(ctx)
	if err != nil {
		return nil, mapError(err, collection, id)
	}
	return toSnapshot(doc), nil
}

func (s *Store) Where(ctx context.Context, collection, field string, value any) ([]*docstore.Snapshot, error) {
	docs, err := s.client.Collection(collection).Where(field, "==", value).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s where %s: %w", collection, field, err)
	}
	return toSnapshots(docs), nil
}

func (s *Store) All(ctx context.Context, collection string) ([]*docstore.Snapshot, error) {
	docs, err := s.client.Collection(collection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", collection, err)
	}
	return toSnapshots(docs), nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	if _, err := s.client.Collection(collection).Doc(id).Set(ctx, fields, firestore.MergeAll); err != nil {
		return mapError(err, collection, id)
	}
	return nil
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	ref, _, err := s.client.Collection(collection).Add(ctx, fields)
	if err != nil {
		return "", fmt.Errorf("add to %s: %w", collection, err)
	}
	return ref.ID, nil
}

func (s *Store) Delete(ctx context.Context, collection, id string) error {
	if _, err := s.client.Collection(collection).Doc(id).Delete(ctx, firestore.Exists); err != nil {
		return mapError(err, collection, id)
	}
	return nil
}

func (s *Store) ArrayUnion(ctx context.Context, collection, id, field string, values ...any) error {
	_, err := s.client.Collection(collection).Doc(id).Set(ctx, map[string]any{
		field: firestore.ArrayUnion(values...),
	}, firestore.MergeAll)
	if err != nil {
		return mapError(err, collection, id)
	}
	return nil
}

// Subscribe attaches a snapshot listener. Firestore delivers the current
// collection contents as the first snapshot.
func (s *Store) Subscribe(ctx context.Context, collection string, fn func([]*docstore.Snapshot)) (func(), error) {
	subCtx, cancel := context.WithCancel(ctx)
	it := s.client.Collection(collection).Snapshots(subCtx)
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer it.Stop()
		for {
			qs, err := it.Next()
			if err != nil {
				if status.Code(err) != codes.Canceled && !errors.Is(err, iterator.Done) && subCtx.Err() == nil {
					logger.Error("snapshot listener stopped", "collection", collection, "error", err)
				}
				return
			}
			docs, err := qs.Documents.GetAll()
			if err != nil {
				logger.Warn("read snapshot documents", "collection", collection, "error", err)
				continue
			}
			fn(toSnapshots(docs))
		}
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

func (s *Store) RunTransaction(ctx context.Context, fn docstore.TxFunc) error {
	err := s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		return fn(ctx, &transaction{client: s.client, tx: ftx})
	})
	if err != nil && status.Code(err) == codes.Aborted {
		return fmt.Errorf("%w: %v", docstore.ErrConflict, err)
	}
	return err
}

func (s *Store) Close() error {
	return s.client.Close()
}

type transaction struct {
	client *firestore.Client
	tx     *firestore.Transaction
}

func (t *transaction) Get(ctx context.Context, collection, id string) (*docstore.Snapshot, error) {
	doc, err := t.tx.Get(t.client.Collection(collection).Doc(id))
	if err != nil {
		return nil, mapError(err, collection, id)
	}
	return toSnapshot(doc), nil
}

func (t *transaction) Where(ctx context.Context, collection, field string, value any) ([]*docstore.Snapshot, error) {
	docs, err := t.tx.Documents(t.client.Collection(collection).Where(field, "==", value)).GetAll()
	if err != nil {
		return nil, fmt.Errorf("query %s where %s: %w", collection, field, err)
	}
	return toSnapshots(docs), nil
}

func (t *transaction) Set(collection, id string, fields map[string]any) error {
	return t.tx.Set(t.client.Collection(collection).Doc(id), fields, firestore.MergeAll)
}

func (t *transaction) ArrayUnion(collection, id, field string, values ...any) error {
	return t.tx.Set(t.client.Collection(collection).Doc(id), map[string]any{
		field: firestore.ArrayUnion(values...),
	}, firestore.MergeAll)
}
