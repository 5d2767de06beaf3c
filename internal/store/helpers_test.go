package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erazemk/lostfound/internal/model"
)

func mustUser(t *testing.T, db *sql.DB, username string) *model.User {
	t.Helper()
	u, err := CreateUser(context.Background(), db, username, "", username+"@example.com", "hash", model.RoleUser)
	require.NoError(t, err)
	return u
}

func mustItem(t *testing.T, db *sql.DB, ownerID, kind, title string) *model.Item {
	t.Helper()
	item, err := CreateItem(context.Background(), db, ownerID, model.NewItem{Kind: kind, Title: title})
	require.NoError(t, err)
	return item
}
