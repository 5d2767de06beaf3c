package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/lostfound/internal/db"
	"github.com/erazemk/lostfound/internal/model"
)

func TestCreateClaim(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	claimer := mustUser(t, database, "claimer")
	item := mustItem(t, database, owner.ID, "found", "Umbrella")

	claim, err := CreateClaim(ctx, database, item.ID, claimer.ID, "scratch on left side")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusPending, claim.Status)
	assert.Equal(t, "scratch on left side", claim.Message)

	existing, err := FindExistingClaim(ctx, database, item.ID, claimer.ID)
	require.NoError(t, err)
	require.NotNil(t, existing)
	assert.Equal(t, claim.ID, existing.ID)

	none, err := FindExistingClaim(ctx, database, item.ID, owner.ID)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestCreateClaimValidatesMessage(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	claimer := mustUser(t, database, "claimer")
	item := mustItem(t, database, owner.ID, "found", "Umbrella")

	for _, message := range []string{"", "   ", strings.Repeat("x", model.MaxClaimMessage+1)} {
		_, err := CreateClaim(ctx, database, item.ID, claimer.ID, message)
		var verr *model.ValidationError
		require.True(t, errors.As(err, &verr), "message %q", message)
		assert.Equal(t, "message", verr.Field)
	}

	claim, err := CreateClaim(ctx, database, item.ID, claimer.ID, "  blue handle \n")
	require.NoError(t, err)
	assert.Equal(t, "blue handle", claim.Message)
}

func TestCreateClaimDuplicateReturnsPrior(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	claimer := mustUser(t, database, "claimer")
	item := mustItem(t, database, owner.ID, "found", "Umbrella")

	first, err := CreateClaim(ctx, database, item.ID, claimer.ID, "first")
	require.NoError(t, err)

	_, err = CreateClaim(ctx, database, item.ID, claimer.ID, "second")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDuplicateClaim))

	var dup *model.DuplicateClaimError
	require.True(t, errors.As(err, &dup))
	require.NotNil(t, dup.Existing)
	assert.Equal(t, first.ID, dup.Existing.ID)
	assert.Equal(t, "first", dup.Existing.Message)

	claims, err := ListClaimsForItem(ctx, database, item.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestCreateClaimDuplicateInsideTransaction(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	claimer := mustUser(t, database, "claimer")
	item := mustItem(t, database, owner.ID, "found", "Umbrella")

	_, err := CreateClaim(ctx, database, item.ID, claimer.ID, "first")
	require.NoError(t, err)

	err = WithTx(ctx, database, func(tx *sql.Tx) error {
		_, err := CreateClaim(ctx, tx, item.ID, claimer.ID, "again")
		return err
	})
	var dup *model.DuplicateClaimError
	require.True(t, errors.As(err, &dup))
	assert.NotNil(t, dup.Existing)
}

func TestCreateClaimUnknownItem(t *testing.T) {
	database := db.NewTestDB(t)
	claimer := mustUser(t, database, "claimer")

	_, err := CreateClaim(context.Background(), database, "missing", claimer.ID, "hello")
	assert.True(t, errors.Is(err, model.ErrDanglingReference))
}

func TestUpdateClaimStatusOnlyFromPending(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	claimer := mustUser(t, database, "claimer")
	item := mustItem(t, database, owner.ID, "found", "Umbrella")
	claim, err := CreateClaim(ctx, database, item.ID, claimer.ID, "mine")
	require.NoError(t, err)

	require.NoError(t, UpdateClaimStatus(ctx, database, claim.ID, model.ClaimStatusRejected, "not a match"))

	got, err := GetClaim(ctx, database, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusRejected, got.Status)
	assert.Equal(t, "not a match", got.DecisionNote)

	err = UpdateClaimStatus(ctx, database, claim.ID, model.ClaimStatusApproved, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	got, err = GetClaim(ctx, database, claim.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusRejected, got.Status)
}

func TestListClaimsForOwner(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	other := mustUser(t, database, "other")
	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")

	mine := mustItem(t, database, owner.ID, "found", "Umbrella")
	theirs := mustItem(t, database, other.ID, "found", "Hat")

	c1, err := CreateClaim(ctx, database, mine.ID, alice.ID, "alice's")
	require.NoError(t, err)
	c2, err := CreateClaim(ctx, database, mine.ID, bob.ID, "bob's")
	require.NoError(t, err)
	_, err = CreateClaim(ctx, database, theirs.ID, alice.ID, "not yours")
	require.NoError(t, err)

	claims, err := ListClaimsForOwner(ctx, database, owner.ID)
	require.NoError(t, err)
	require.Len(t, claims, 2)
	assert.Equal(t, c2.ID, claims[0].Claim.ID)
	assert.Equal(t, c1.ID, claims[1].Claim.ID)
	assert.Equal(t, "bob", claims[0].Claimer.Name)
	assert.Equal(t, "bob@example.com", claims[0].Claimer.Email)
	assert.Equal(t, "Umbrella", claims[0].Item.Title)

	empty, err := ListClaimsForOwner(ctx, database, bob.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	byAlice, err := ListClaimsByClaimer(ctx, database, alice.ID)
	require.NoError(t, err)
	assert.Len(t, byAlice, 2)
}

func TestPendingSiblingsAndStatuses(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	alice := mustUser(t, database, "alice")
	bob := mustUser(t, database, "bob")
	item := mustItem(t, database, owner.ID, "lost", "Ring")

	c1, err := CreateClaim(ctx, database, item.ID, alice.ID, "a")
	require.NoError(t, err)
	c2, err := CreateClaim(ctx, database, item.ID, bob.ID, "b")
	require.NoError(t, err)

	siblings, err := ListPendingSiblings(ctx, database, item.ID, c1.ID)
	require.NoError(t, err)
	require.Len(t, siblings, 1)
	assert.Equal(t, c2.ID, siblings[0].ID)

	require.NoError(t, UpdateClaimStatus(ctx, database, c1.ID, model.ClaimStatusApproved, ""))

	statuses, err := ItemClaimStatuses(ctx, database, item.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"approved", "pending"}, statuses)
	assert.Equal(t, model.ItemStatusClaimed, model.DeriveItemStatus(item.Kind, statuses))
}

func TestItemHistory(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	owner := mustUser(t, database, "owner")
	claimer := mustUser(t, database, "claimer")
	item := mustItem(t, database, owner.ID, "found", "Umbrella")
	claim, err := CreateClaim(ctx, database, item.ID, claimer.ID, "mine")
	require.NoError(t, err)

	_, err = CreateClaimEvent(ctx, database, model.ClaimEvent{
		ClaimID: claim.ID, ItemID: item.ID, ToStatus: model.ClaimStatusPending, ActorID: claimer.ID,
	})
	require.NoError(t, err)
	_, err = CreateClaimEvent(ctx, database, model.ClaimEvent{
		ClaimID: claim.ID, ItemID: item.ID, FromStatus: model.ClaimStatusPending,
		ToStatus: model.ClaimStatusApproved, ActorID: owner.ID, Note: "looks right",
	})
	require.NoError(t, err)

	history, err := ListItemHistory(ctx, database, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, model.ClaimStatusApproved, history[0].ToStatus)
	assert.Equal(t, "looks right", history[0].Note)
	assert.Equal(t, "owner", history[0].ActorName)
	assert.Equal(t, "", history[1].FromStatus)
	assert.Equal(t, "claimer", history[1].ActorName)
}
