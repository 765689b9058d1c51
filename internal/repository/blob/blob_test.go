package blob

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/repository"
	"github.com/sakif/checkinn/internal/repository/memory"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// brokenStore fails every call. Set only the errors a test cares about.
type brokenStore struct {
	getErr    error
	putErr    error
	deleteErr error
}

func (b *brokenStore) Get(context.Context, string) ([]byte, error) { return nil, b.getErr }
func (b *brokenStore) Put(context.Context, string, []byte) error   { return b.putErr }
func (b *brokenStore) Delete(context.Context, string) error        { return b.deleteErr }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// =========================================================================
// IDENTITY STORE
// =========================================================================

func TestIdentityStore_EmptyWhenMissing(t *testing.T) {
	ctx := context.Background()
	s := NewIdentityStore(memory.New(), testLogger())

	assert.Empty(t, s.LoadEmailAccounts(ctx))
	assert.NotNil(t, s.LoadEmailAccounts(ctx))
	assert.Empty(t, s.LoadExternalAccounts(ctx))
	assert.Empty(t, s.LoadProfiles(ctx))
	assert.Nil(t, s.LoadSession(ctx))
}

func TestIdentityStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewIdentityStore(memory.New(), testLogger())

	accounts := map[string]model.EmailAccount{
		"a@x.com": {ID: "u_1", Email: "a@x.com", PasswordHash: "$argon2id$...", DisplayName: model.String("a")},
	}
	require.NoError(t, s.SaveEmailAccounts(ctx, accounts))
	assert.Equal(t, accounts, s.LoadEmailAccounts(ctx))

	external := map[string]model.ExternalAccount{
		"sub1": {ID: "a_1", SubjectID: "sub1"},
	}
	require.NoError(t, s.SaveExternalAccounts(ctx, external))
	assert.Equal(t, external, s.LoadExternalAccounts(ctx))

	profiles := map[string]model.Profile{
		"u_1": {ID: "u_1", Email: model.String("a@x.com")},
	}
	require.NoError(t, s.SaveProfiles(ctx, profiles))
	assert.Equal(t, profiles, s.LoadProfiles(ctx))
}

func TestIdentityStore_Session(t *testing.T) {
	ctx := context.Background()
	s := NewIdentityStore(memory.New(), testLogger())

	user := model.User{ID: "u_1", Email: model.String("a@x.com")}
	require.NoError(t, s.SaveSession(ctx, user))

	got := s.LoadSession(ctx)
	require.NotNil(t, got)
	assert.Equal(t, user, *got)

	require.NoError(t, s.ClearSession(ctx))
	assert.Nil(t, s.LoadSession(ctx))
}

func TestIdentityStore_CorruptDocumentsLoadEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := NewIdentityStore(blobs, testLogger())

	for _, key := range []string{
		repository.KeyEmailAccounts,
		repository.KeyExternalAccounts,
		repository.KeyProfiles,
		repository.KeySession,
	} {
		require.NoError(t, blobs.Put(ctx, key, []byte("{not json")))
	}

	assert.Empty(t, s.LoadEmailAccounts(ctx))
	assert.Empty(t, s.LoadExternalAccounts(ctx))
	assert.Empty(t, s.LoadProfiles(ctx))
	assert.Nil(t, s.LoadSession(ctx))
}

// A document that is valid JSON but has a wrongly typed element must not
// load the elements decoded before it.
func TestIdentityStore_MistypedDocumentsLoadEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := NewIdentityStore(blobs, testLogger())

	require.NoError(t, blobs.Put(ctx, repository.KeyEmailAccounts,
		[]byte(`{"a@x.com":{"id":"u_1","email":"a@x.com","passwordHash":"h"},"b@x.com":5}`)))
	require.NoError(t, blobs.Put(ctx, repository.KeyExternalAccounts,
		[]byte(`{"sub-1":{"id":"a_1","subjectId":"sub-1"},"sub-2":[]}`)))
	require.NoError(t, blobs.Put(ctx, repository.KeyProfiles,
		[]byte(`{"u_1":{"id":"u_1"},"u_2":"x"}`)))
	require.NoError(t, blobs.Put(ctx, repository.KeySession, []byte(`{"id":7}`)))

	assert.Empty(t, s.LoadEmailAccounts(ctx))
	assert.Empty(t, s.LoadExternalAccounts(ctx))
	assert.Empty(t, s.LoadProfiles(ctx))
	assert.Nil(t, s.LoadSession(ctx))
}

func TestIdentityStore_NullDocumentLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	require.NoError(t, blobs.Put(ctx, repository.KeyProfiles, []byte("null")))

	profiles := NewIdentityStore(blobs, testLogger()).LoadProfiles(ctx)
	assert.NotNil(t, profiles)
	assert.Empty(t, profiles)
}

func TestIdentityStore_ReadFailureLoadsEmpty(t *testing.T) {
	s := NewIdentityStore(&brokenStore{getErr: errors.New("disk gone")}, testLogger())
	assert.Empty(t, s.LoadProfiles(context.Background()))
	assert.Nil(t, s.LoadSession(context.Background()))
}

func TestIdentityStore_WriteFailureIsReturned(t *testing.T) {
	boom := errors.New("read-only filesystem")
	s := NewIdentityStore(&brokenStore{putErr: boom, deleteErr: boom}, testLogger())

	err := s.SaveProfiles(context.Background(), map[string]model.Profile{})
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, s.ClearSession(context.Background()), boom)
}

// =========================================================================
// STAY STORE
// =========================================================================

func TestStayStore_SavesSortedByCheckIn(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	s := NewStayStore(blobs, testLogger())

	may := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	jan := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	in := []model.Stay{
		{ID: "may", Title: "May", CheckIn: may},
		{ID: "jan", Title: "Jan", CheckIn: jan},
	}
	require.NoError(t, s.SaveStays(ctx, "u_1", in))

	got := s.LoadStays(ctx, "u_1")
	require.Len(t, got, 2)
	assert.Equal(t, "jan", got[0].ID)
	assert.Equal(t, "may", got[1].ID)
	assert.Equal(t, "may", in[0].ID, "caller's slice is not reordered")

	raw, err := blobs.Get(ctx, repository.StaysKey("u_1"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"id":"jan"`)
}

func TestStayStore_PerUser(t *testing.T) {
	ctx := context.Background()
	s := NewStayStore(memory.New(), testLogger())

	require.NoError(t, s.SaveStays(ctx, "u_1", []model.Stay{{ID: "x", Title: "X", CheckIn: time.Now()}}))

	assert.Len(t, s.LoadStays(ctx, "u_1"), 1)
	assert.Empty(t, s.LoadStays(ctx, "u_2"))
}

func TestStayStore_CorruptLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	require.NoError(t, blobs.Put(ctx, repository.StaysKey("u_1"), []byte("[{")))

	got := NewStayStore(blobs, testLogger()).LoadStays(ctx, "u_1")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStayStore_MistypedElementLoadsEmpty(t *testing.T) {
	ctx := context.Background()
	blobs := memory.New()
	require.NoError(t, blobs.Put(ctx, repository.StaysKey("u_1"),
		[]byte(`[{"id":"s1","title":"Kyoto","checkIn":"2025-01-02T00:00:00Z"},{"id":7}]`)))

	got := NewStayStore(blobs, testLogger()).LoadStays(ctx, "u_1")
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStayStore_StableForEqualCheckIn(t *testing.T) {
	ctx := context.Background()
	s := NewStayStore(memory.New(), testLogger())
	same := time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveStays(ctx, "u_1", []model.Stay{
		{ID: "first", Title: "A", CheckIn: same},
		{ID: "second", Title: "B", CheckIn: same},
	}))

	got := s.LoadStays(ctx, "u_1")
	assert.Equal(t, []string{"first", "second"}, []string{got[0].ID, got[1].ID})
}
