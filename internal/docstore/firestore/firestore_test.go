package fsstore

import (
	"context"
	"os"
	"testing"

	"bibliopanel/internal/docstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name string
		code codes.Code
		want error
	}{
		{"not found", codes.NotFound, docstore.ErrNotFound},
		{"aborted", codes.Aborted, docstore.ErrConflict},
		{"precondition", codes.FailedPrecondition, docstore.ErrConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapError(status.Error(tt.code, "rpc"), "BiblioBooks", "calc")
			assert.ErrorIs(t, err, tt.want)
		})
	}

	denied := status.Error(codes.PermissionDenied, "missing permissions")
	assert.Equal(t, denied, mapError(denied, "BiblioBooks", "calc"))
}

// Runs against the Firestore emulator when FIRESTORE_EMULATOR_HOST is set.
func TestEmulatorTransaction(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	store, err := Open(ctx, "bibliopanel-test", "")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Set(ctx, "BiblioBooks", "calc", map[string]any{"name": "Calculus", "exemplaire": 4}))

	err = store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		snap, err := tx.Get(ctx, "BiblioBooks", "calc")
		if err != nil {
			return err
		}
		n, _ := docstore.Int(snap.Data, "exemplaire")
		return tx.Set("BiblioBooks", "calc", map[string]any{"exemplaire": n - 1})
	})
	require.NoError(t, err)

	snap, err := store.Get(ctx, "BiblioBooks", "calc")
	require.NoError(t, err)
	n, _ := docstore.Int(snap.Data, "exemplaire")
	assert.Equal(t, 3, n)

	_, err = store.Get(ctx, "BiblioBooks", "missing")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
