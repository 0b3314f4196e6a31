package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/zhouzirui/kyc-shield/backend/internal/feed"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/identity"
	"github.com/zhouzirui/kyc-shield/backend/internal/model/verification"
	"github.com/zhouzirui/kyc-shield/backend/internal/store"
)

func newService(t *testing.T) (*Service, *feed.Hub) {
	t.Helper()
	dsn := fmt.Sprintf("file:history-%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(db))

	hub := feed.NewHub()
	return NewService(store.NewScanRepository(db), hub), hub
}

func TestRecordPublishesAndLists(t *testing.T) {
	svc, _ := newService(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	user := identity.Principal{ClientID: "c", User: &identity.User{ID: "u1"}}
	sub, err := svc.Subscribe(ctx, user)
	require.NoError(t, err)

	rec := verification.NewScanRecord("u1", time.Now().UTC(), verification.Verdict{IsReal: true, Confidence: 97, Issues: []string{}, Message: "ok"})
	require.NoError(t, svc.Record(ctx, rec))

	select {
	case ev := <-sub.C:
		assert.Equal(t, feed.KindScan, ev.Kind)
		assert.Equal(t, "u1", ev.Owner)
	case <-time.After(2 * time.Second):
		t.Fatal("no change event")
	}

	list, err := svc.List(ctx, user, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 97, list[0].Confidence)
}

func TestAnonymousHasNoHistory(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	anon := identity.Principal{ClientID: "u1"}

	require.NoError(t, svc.Record(ctx, verification.ScanRecord{Owner: "u1", Message: "x"}))

	list, err := svc.List(ctx, anon, 0)
	require.NoError(t, err)
	assert.Empty(t, list)

	_, err = svc.Subscribe(ctx, anon)
	require.ErrorIs(t, err, ErrSignInRequired)
}
