package claims

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/lostfound/internal/db"
	"github.com/erazemk/lostfound/internal/model"
	"github.com/erazemk/lostfound/internal/notify"
	"github.com/erazemk/lostfound/internal/store"
)

type recorder struct {
	mu     sync.Mutex
	events []model.ChangeEvent
}

func (r *recorder) Publish(ev model.ChangeEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) tables() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, ev := range r.events {
		out = append(out, ev.Table+":"+ev.Op)
	}
	return out
}

type fixture struct {
	db      *sql.DB
	engine  *Engine
	events  *recorder
	owner   *model.User
	alice   *model.User
	bob     *model.User
	carol   *model.User
	found   *model.Item
	lostOne *model.Item
}

func newFixture(t *testing.T, database *sql.DB) *fixture {
	t.Helper()
	ctx := context.Background()

	f := &fixture{db: database, events: &recorder{}}
	f.engine = New(database, f.events, time.Second)

	user := func(name string) *model.User {
		u, err := store.CreateUser(ctx, database, name, "", name+"@example.com", "hash", model.RoleUser)
		require.NoError(t, err)
		return u
	}
	f.owner = user("owner")
	f.alice = user("alice")
	f.bob = user("bob")
	f.carol = user("carol")

	var err error
	f.found, err = store.CreateItem(ctx, database, f.owner.ID, model.NewItem{Kind: "found", Title: "Umbrella"})
	require.NoError(t, err)
	f.lostOne, err = store.CreateItem(ctx, database, f.owner.ID, model.NewItem{Kind: "lost", Title: "Ring"})
	require.NoError(t, err)
	return f
}

func (f *fixture) item(t *testing.T, id string) *model.Item {
	t.Helper()
	item, err := store.GetItem(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

func (f *fixture) claim(t *testing.T, id string) *model.Claim {
	t.Helper()
	c, err := store.GetClaim(context.Background(), f.db, id)
	require.NoError(t, err)
	require.NotNil(t, c)
	return c
}

func TestScenarioSubmitDuplicateApprove(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	c1, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "scratch on left side")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusPending, c1.Status)
	assert.Equal(t, model.ItemStatusPendingClaim, f.item(t, f.found.ID).Status)

	_, err = f.engine.Submit(ctx, f.found.ID, f.alice.ID, "scratch on left side")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDuplicateClaim))
	var dup *model.DuplicateClaimError
	require.True(t, errors.As(err, &dup))
	assert.Equal(t, c1.ID, dup.Existing.ID)
	assert.Contains(t, err.Error(), "status: pending")

	claims, err := store.ListClaimsForItem(ctx, f.db, f.found.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 1)

	approved, err := f.engine.Decide(ctx, c1.ID, f.owner.ID, model.ClaimStatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusApproved, approved.Status)
	assert.Equal(t, model.ItemStatusClaimed, f.item(t, f.found.ID).Status)
}

func TestSubmitValidation(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "   ")
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = f.engine.Submit(ctx, f.found.ID, f.alice.ID, strings.Repeat("é", model.MaxClaimMessage+1))
	assert.True(t, errors.Is(err, model.ErrValidation))

	_, err = f.engine.Submit(ctx, f.found.ID, f.alice.ID, strings.Repeat("é", model.MaxClaimMessage))
	assert.NoError(t, err)

	_, err = f.engine.Submit(ctx, f.found.ID, f.owner.ID, "it's mine")
	assert.True(t, errors.Is(err, model.ErrValidation))
}

func TestSubmitDanglingItem(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, "does-not-exist", f.alice.ID, "hello")
	assert.True(t, errors.Is(err, model.ErrDanglingReference))

	require.NoError(t, f.engine.DeleteItem(ctx, f.found.ID, f.owner.ID))
	_, err = f.engine.Submit(ctx, f.found.ID, f.alice.ID, "hello")
	assert.True(t, errors.Is(err, model.ErrDanglingReference))
}

func TestSubmitOnClaimedItem(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	c, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, c.ID, f.owner.ID, model.ClaimStatusApproved, "")
	require.NoError(t, err)

	_, err = f.engine.Submit(ctx, f.found.ID, f.bob.ID, "no, mine")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestSubmitCompetingClaimers(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	_, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, f.found.ID, f.bob.ID, "mine too")
	require.NoError(t, err)

	assert.Equal(t, model.ItemStatusPendingClaim, f.item(t, f.found.ID).Status)
}

func TestConcurrentSubmitStoresOneClaim(t *testing.T) {
	database, err := db.Open(filepath.Join(t.TempDir(), "race.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	require.NoError(t, db.EnsureSchema(database))

	f := newFixture(t, database)
	f.engine.Timeout = 10 * time.Second
	ctx := context.Background()

	const attempts = 5
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := range attempts {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.engine.Submit(ctx, f.found.ID, f.alice.ID, "scratch on left side")
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		var dup *model.DuplicateClaimError
		require.True(t, errors.As(err, &dup), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, ok)

	claims, err := store.ListClaimsForItem(ctx, database, f.found.ID)
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

func TestApproveVoidsSiblings(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	a, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "a")
	require.NoError(t, err)
	b, err := f.engine.Submit(ctx, f.found.ID, f.bob.ID, "b")
	require.NoError(t, err)
	c, err := f.engine.Submit(ctx, f.found.ID, f.carol.ID, "c")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, b.ID, f.owner.ID, model.ClaimStatusApproved, "matched serial")
	require.NoError(t, err)

	assert.Equal(t, model.ClaimStatusApproved, f.claim(t, b.ID).Status)
	assert.Equal(t, "matched serial", f.claim(t, b.ID).DecisionNote)
	for _, id := range []string{a.ID, c.ID} {
		sibling := f.claim(t, id)
		assert.Equal(t, model.ClaimStatusRejected, sibling.Status)
		assert.Equal(t, model.VoidedNote, sibling.DecisionNote)
	}
	assert.Equal(t, model.ItemStatusClaimed, f.item(t, f.found.ID).Status)

	_, err = f.engine.Decide(ctx, a.ID, f.owner.ID, model.ClaimStatusApproved, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestRejectLastPendingReopensItem(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	a, err := f.engine.Submit(ctx, f.lostOne.ID, f.alice.ID, "a")
	require.NoError(t, err)
	b, err := f.engine.Submit(ctx, f.lostOne.ID, f.bob.ID, "b")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, a.ID, f.owner.ID, model.ClaimStatusRejected, "wrong colour")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusPendingClaim, f.item(t, f.lostOne.ID).Status)

	rejected, err := f.engine.Decide(ctx, b.ID, f.owner.ID, model.ClaimStatusRejected, "")
	require.NoError(t, err)
	assert.Equal(t, model.ClaimStatusRejected, rejected.Status)
	assert.Equal(t, model.ItemStatusLost, f.item(t, f.lostOne.ID).Status)

	// The reopened item can be claimed again by someone else.
	_, err = f.engine.Submit(ctx, f.lostOne.ID, f.carol.ID, "c")
	require.NoError(t, err)
	assert.Equal(t, model.ItemStatusPendingClaim, f.item(t, f.lostOne.ID).Status)
}

func TestDecideByNonOwner(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	c, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.NoError(t, err)

	for _, decision := range []string{model.ClaimStatusApproved, model.ClaimStatusRejected, "bogus"} {
		_, err = f.engine.Decide(ctx, c.ID, f.bob.ID, decision, "")
		assert.True(t, errors.Is(err, model.ErrUnauthorized), decision)
	}
	_, err = f.engine.Decide(ctx, c.ID, f.alice.ID, model.ClaimStatusApproved, "")
	assert.True(t, errors.Is(err, model.ErrUnauthorized))

	assert.Equal(t, model.ClaimStatusPending, f.claim(t, c.ID).Status)
	assert.Equal(t, model.ItemStatusPendingClaim, f.item(t, f.found.ID).Status)

	_, err = f.engine.Decide(ctx, "no-such-claim", f.owner.ID, model.ClaimStatusApproved, "")
	assert.True(t, errors.Is(err, model.ErrUnauthorized))
}

func TestDecideInvalidTransitions(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	c, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, c.ID, f.owner.ID, model.ClaimStatusPending, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	assert.Equal(t, model.ClaimStatusPending, f.claim(t, c.ID).Status)

	_, err = f.engine.Decide(ctx, c.ID, f.owner.ID, model.ClaimStatusRejected, "")
	require.NoError(t, err)

	_, err = f.engine.Decide(ctx, c.ID, f.owner.ID, model.ClaimStatusRejected, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	_, err = f.engine.Decide(ctx, c.ID, f.owner.ID, model.ClaimStatusApproved, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	assert.Equal(t, model.ClaimStatusRejected, f.claim(t, c.ID).Status)
}

func TestOwnerClaimsRoundTrip(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	var ids []string
	for _, item := range []*model.Item{f.found, f.lostOne} {
		for _, u := range []*model.User{f.alice, f.bob} {
			c, err := f.engine.Submit(ctx, item.ID, u.ID, "mine")
			require.NoError(t, err)
			ids = append(ids, c.ID)
		}
	}

	// Reject one claim on each item; two decisions, four claims.
	_, err := f.engine.Decide(ctx, ids[0], f.owner.ID, model.ClaimStatusRejected, "")
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, ids[3], f.owner.ID, model.ClaimStatusRejected, "")
	require.NoError(t, err)

	claims, err := f.engine.ListOwnerClaims(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, claims, 4)

	terminal, pending := 0, 0
	for _, oc := range claims {
		if oc.Claim.Terminal() {
			terminal++
		} else {
			pending++
		}
	}
	assert.Equal(t, 2, terminal)
	assert.Equal(t, 2, pending)

	for i := 1; i < len(claims); i++ {
		assert.False(t, claims[i].Claim.CreatedAt.After(claims[i-1].Claim.CreatedAt))
	}

	none, err := f.engine.ListOwnerClaims(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestReconcileRepairsDrift(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	c, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.NoError(t, err)

	// Simulate a lost item write after approval.
	require.NoError(t, store.UpdateClaimStatus(ctx, f.db, c.ID, model.ClaimStatusApproved, ""))
	assert.Equal(t, model.ItemStatusPendingClaim, f.item(t, f.found.ID).Status)

	_, err = store.SetItemStatus(ctx, f.db, f.lostOne.ID, model.ItemStatusPendingClaim)
	require.NoError(t, err)

	n, err := f.engine.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, model.ItemStatusClaimed, f.item(t, f.found.ID).Status)
	assert.Equal(t, model.ItemStatusLost, f.item(t, f.lostOne.ID).Status)

	n, err = f.engine.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestListOwnerClaimsRepairsStaleItem(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	c, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.NoError(t, err)
	require.NoError(t, store.UpdateClaimStatus(ctx, f.db, c.ID, model.ClaimStatusApproved, ""))

	claims, err := f.engine.ListOwnerClaims(ctx, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, model.ItemStatusClaimed, claims[0].Item.Status)
}

func TestExpiredDeadlineIsTransient(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrTransient))

	claims, err := store.ListClaimsForItem(context.Background(), f.db, f.found.ID)
	require.NoError(t, err)
	assert.Empty(t, claims)
	assert.Equal(t, model.ItemStatusFound, f.item(t, f.found.ID).Status)
}

func TestPublishesChangeEvents(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	a, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "a")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, f.found.ID, f.bob.ID, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"claims:insert", "items:update", "claims:insert"}, f.events.tables())

	f.events.events = nil
	_, err = f.engine.Decide(ctx, a.ID, f.owner.ID, model.ClaimStatusApproved, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"claims:update", "claims:update", "items:update"}, f.events.tables())

	_, err = f.engine.Submit(ctx, f.lostOne.ID, f.alice.ID, "")
	require.Error(t, err)
	assert.Len(t, f.events.events, 3)
}

func TestItemHistory(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	a, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "a")
	require.NoError(t, err)
	_, err = f.engine.Submit(ctx, f.found.ID, f.bob.ID, "b")
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, a.ID, f.owner.ID, model.ClaimStatusApproved, "")
	require.NoError(t, err)

	history, err := f.engine.ItemHistory(ctx, f.found.ID, f.owner.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, model.VoidedNote, history[0].Note)
	assert.Equal(t, model.ClaimStatusApproved, history[1].ToStatus)
	assert.Equal(t, "alice", history[3].ActorName)

	_, err = f.engine.ItemHistory(ctx, f.found.ID, f.alice.ID)
	assert.True(t, errors.Is(err, model.ErrUnauthorized))
}

func TestBrowseAndOwnerOperations(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	item, err := f.engine.ReportItem(ctx, f.alice.ID, model.NewItem{Kind: "found", Title: "Gloves"})
	require.NoError(t, err)

	items, err := f.engine.ListBrowsableItems(ctx, model.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, item.ID, items[0].ID)
	assert.False(t, items[0].AvailableForClaim(f.alice.ID))
	assert.True(t, items[0].AvailableForClaim(f.bob.ID))

	err = f.engine.DeleteItem(ctx, item.ID, f.bob.ID)
	assert.True(t, errors.Is(err, model.ErrUnauthorized))
	err = f.engine.SetItemImage(ctx, item.ID, f.bob.ID, []byte{1}, "image/png")
	assert.True(t, errors.Is(err, model.ErrUnauthorized))

	require.NoError(t, f.engine.DeleteItem(ctx, item.ID, f.alice.ID))
	_, err = f.engine.GetItem(ctx, item.ID)
	assert.True(t, errors.Is(err, model.ErrDanglingReference))

	mine, err := f.engine.ListClaimerClaims(ctx, f.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestDeleteItemRejectsPendingClaims(t *testing.T) {
	f := newFixture(t, db.NewTestDB(t))
	ctx := context.Background()

	a, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "a")
	require.NoError(t, err)
	b, err := f.engine.Submit(ctx, f.found.ID, f.bob.ID, "b")
	require.NoError(t, err)
	other, err := f.engine.Submit(ctx, f.lostOne.ID, f.alice.ID, "other")
	require.NoError(t, err)

	f.events.events = nil
	require.NoError(t, f.engine.DeleteItem(ctx, f.found.ID, f.owner.ID))
	assert.Equal(t, []string{"claims:update", "claims:update", "items:delete"}, f.events.tables())

	for _, id := range []string{a.ID, b.ID} {
		c := f.claim(t, id)
		assert.Equal(t, model.ClaimStatusRejected, c.Status)
		assert.Equal(t, model.ItemRemovedNote, c.DecisionNote)
	}
	assert.Equal(t, model.ClaimStatusPending, f.claim(t, other.ID).Status)

	// The owner's decision on a resolved claim is a plain "already processed".
	_, err = f.engine.Decide(ctx, a.ID, f.owner.ID, model.ClaimStatusRejected, "")
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))

	history, err := store.ListItemHistory(ctx, f.db, f.found.ID)
	require.NoError(t, err)
	var removed int
	for _, ev := range history {
		if ev.ToStatus == model.ClaimStatusRejected {
			assert.Equal(t, model.ItemRemovedNote, ev.Note)
			assert.Equal(t, f.owner.ID, ev.ActorID)
			removed++
		}
	}
	assert.Equal(t, 2, removed)

	err = f.engine.DeleteItem(ctx, f.found.ID, f.owner.ID)
	assert.True(t, errors.Is(err, model.ErrDanglingReference))
}

func TestSubmitDoesNotWaitOnRedis(t *testing.T) {
	// Connections to this listener are never served.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	client, err := notify.Connect(ln.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := notify.NewHub()
	bridge := notify.NewRedisBridge(client, hub, "")
	go bridge.Run(ctx)

	f := newFixture(t, db.NewTestDB(t))
	f.engine.Publisher = hub

	start := time.Now()
	c, err := f.engine.Submit(ctx, f.found.ID, f.alice.ID, "mine")
	require.NoError(t, err)
	_, err = f.engine.Decide(ctx, c.ID, f.owner.ID, model.ClaimStatusApproved, "")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
