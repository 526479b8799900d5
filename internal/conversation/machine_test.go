package conversation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecords struct {
	mu        sync.Mutex
	items     map[string]*database.ShowcaseItem
	createErr error
	nextID    int
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{items: map[string]*database.ShowcaseItem{}}
}

func (f *fakeRecords) CreateShowcase(ctx context.Context, item *database.ShowcaseItem) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.nextID++
	id := string(rune('a' + f.nextID - 1))
	stored := *item
	stored.ID = id
	f.items[id] = &stored
	return id, nil
}

func (f *fakeRecords) UpdateShowcaseThumbnail(ctx context.Context, id, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.items[id]
	if !ok {
		return database.ErrNotFound
	}
	item.ThumbnailURL = url
	return nil
}

func (f *fakeRecords) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	rs, err := NewRedisStore(client, "test:conv", time.Hour)
	require.NoError(t, err)

	return map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  rs,
	}
}

func TestMachine_FullDialogPublishesOnce(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			records := newFakeRecords()
			m := NewMachine(store, records, nil)

			require.NoError(t, m.Begin(ctx, "7", "1700000000000-essay.pdf"))

			out, err := m.HandleText(ctx, "7", "  Title X  ")
			require.NoError(t, err)
			assert.Equal(t, OutcomeAskAuthor, out.Kind)
			assert.Equal(t, StepWaitingForAuthor, out.Step)

			out, err = m.HandleText(ctx, "7", "Author Y")
			require.NoError(t, err)
			assert.Equal(t, OutcomeAskDescription, out.Kind)
			assert.Equal(t, 0, records.count(), "nothing committed before the description")

			out, err = m.HandleText(ctx, "7", "Desc Z")
			require.NoError(t, err)
			assert.Equal(t, OutcomePublished, out.Kind)
			assert.Equal(t, StepWaitingForThumbnailOrDone, out.Step)
			require.NotNil(t, out.Item)

			require.Equal(t, 1, records.count())
			item := records.items[out.Item.ID]
			assert.Equal(t, "Title X", item.Title)
			assert.Equal(t, "Author Y", item.Author)
			assert.Equal(t, "Desc Z", item.Description)
			assert.Equal(t, consts.StatusPublished, item.Status)
			assert.Equal(t, "1700000000000-essay.pdf", item.PDFObjectName)
			assert.Equal(t, consts.PlaceholderThumbnailURL, item.ThumbnailURL)

			state, err := m.current(ctx, "7")
			require.NoError(t, err)
			require.NotNil(t, state)
			assert.Equal(t, StepWaitingForThumbnailOrDone, state.Step)
			assert.Equal(t, out.Item.ID, state.ShowcaseID)

			// Other text re-prompts without changing state
			out, err = m.HandleText(ctx, "7", "what now?")
			require.NoError(t, err)
			assert.Equal(t, OutcomeAwaitThumbnail, out.Kind)

			out, err = m.HandleText(ctx, "7", "/done")
			require.NoError(t, err)
			assert.Equal(t, OutcomeCompleted, out.Kind)

			state, err = m.current(ctx, "7")
			require.NoError(t, err)
			assert.Nil(t, state)
			assert.Equal(t, 1, records.count())
		})
	}
}

func TestMachine_CancelInEveryStep(t *testing.T) {
	steps := []int{0, 1, 2}
	for _, answered := range steps {
		ctx := context.Background()
		records := newFakeRecords()
		m := NewMachine(NewMemoryStore(), records, nil)

		require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))
		for i := 0; i < answered; i++ {
			_, err := m.HandleText(ctx, "1", "answer")
			require.NoError(t, err)
		}

		cancelled, err := m.Cancel(ctx, "1")
		require.NoError(t, err)
		assert.True(t, cancelled)
		assert.Equal(t, 0, records.count(), "cancel creates no record")

		state, err := m.current(ctx, "1")
		require.NoError(t, err)
		assert.Nil(t, state)
	}
}

func TestMachine_CancelInThumbnailStepKeepsRecord(t *testing.T) {
	ctx := context.Background()
	records := newFakeRecords()
	m := NewMachine(NewMemoryStore(), records, nil)

	require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))
	for _, text := range []string{"T", "A", "D"} {
		_, err := m.HandleText(ctx, "1", text)
		require.NoError(t, err)
	}

	cancelled, err := m.Cancel(ctx, "1")
	require.NoError(t, err)
	assert.True(t, cancelled)
	assert.Equal(t, 1, records.count())
}

func TestMachine_CancelWhenIdleIsNoop(t *testing.T) {
	m := NewMachine(NewMemoryStore(), newFakeRecords(), nil)
	cancelled, err := m.Cancel(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestMachine_NoConversation(t *testing.T) {
	m := NewMachine(NewMemoryStore(), newFakeRecords(), nil)
	out, err := m.HandleText(context.Background(), "1", "hello")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoConversation, out.Kind)
	assert.Equal(t, StepIdle, out.Step)
}

func TestMachine_DoneBeforeRecordExists(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), newFakeRecords(), nil)
	require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))

	out, err := m.HandleText(ctx, "1", "/done")
	require.NoError(t, err)
	assert.Equal(t, OutcomeFinishStepFirst, out.Kind)

	state, _ := m.current(ctx, "1")
	assert.Equal(t, StepWaitingForTitle, state.Step)
	assert.Empty(t, state.Data.Title, "/done is not consumed as a title")
}

func TestMachine_BlankInputDoesNotAdvance(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), newFakeRecords(), nil)
	require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))

	out, err := m.HandleText(ctx, "1", "   ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeEmptyInput, out.Kind)
	assert.Equal(t, StepWaitingForTitle, out.Step)
}

func TestMachine_DoneIsCaseInsensitiveInThumbnailStep(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), newFakeRecords(), nil)
	require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))
	for _, text := range []string{"T", "A", "D"} {
		_, err := m.HandleText(ctx, "1", text)
		require.NoError(t, err)
	}

	out, err := m.HandleText(ctx, "1", "/DONE")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
}

func TestMachine_CommitFailureStaysInDescriptionStep(t *testing.T) {
	ctx := context.Background()
	records := newFakeRecords()
	m := NewMachine(NewMemoryStore(), records, nil)
	require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))
	_, _ = m.HandleText(ctx, "1", "T")
	_, _ = m.HandleText(ctx, "1", "A")

	records.createErr = errors.New("db down")
	_, err := m.HandleText(ctx, "1", "D")
	require.Error(t, err)

	state, _ := m.current(ctx, "1")
	assert.Equal(t, StepWaitingForDescription, state.Step)
	assert.Empty(t, state.ShowcaseID)

	records.createErr = nil
	out, err := m.HandleText(ctx, "1", "D")
	require.NoError(t, err)
	assert.Equal(t, OutcomePublished, out.Kind)
}

func TestMachine_BeginOverwritesPriorState(t *testing.T) {
	ctx := context.Background()
	m := NewMachine(NewMemoryStore(), newFakeRecords(), nil)
	require.NoError(t, m.Begin(ctx, "1", "first.pdf"))
	_, _ = m.HandleText(ctx, "1", "Old title")

	require.NoError(t, m.Begin(ctx, "1", "second.pdf"))
	state, _ := m.current(ctx, "1")
	assert.Equal(t, StepWaitingForTitle, state.Step)
	assert.Equal(t, "second.pdf", state.PDFObjectName)
	assert.Empty(t, state.Data.Title)
}

func TestMachine_AttachThumbnail(t *testing.T) {
	ctx := context.Background()
	records := newFakeRecords()
	m := NewMachine(NewMemoryStore(), records, nil)

	// No conversation: nothing linked
	linked, err := m.AttachThumbnail(ctx, "1", "https://storage.googleapis.com/t/a.jpg")
	require.NoError(t, err)
	assert.False(t, linked)

	// Conversation without a committed record: nothing linked, state kept
	require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))
	linked, err = m.AttachThumbnail(ctx, "1", "https://storage.googleapis.com/t/a.jpg")
	require.NoError(t, err)
	assert.False(t, linked)
	state, _ := m.current(ctx, "1")
	require.NotNil(t, state)

	for _, text := range []string{"T", "A", "D"} {
		_, err := m.HandleText(ctx, "1", text)
		require.NoError(t, err)
	}
	state, _ = m.current(ctx, "1")
	id := state.ShowcaseID

	linked, err = m.AttachThumbnail(ctx, "1", "https://storage.googleapis.com/t/b.jpg")
	require.NoError(t, err)
	assert.True(t, linked)
	assert.Equal(t, "https://storage.googleapis.com/t/b.jpg", records.items[id].ThumbnailURL)
	assert.Equal(t, consts.StatusPublished, records.items[id].Status)

	state, _ = m.current(ctx, "1")
	assert.Nil(t, state, "linking returns the user to idle")
}

func TestMachine_ConcurrentEventsForOneUser(t *testing.T) {
	ctx := context.Background()
	records := newFakeRecords()
	m := NewMachine(NewMemoryStore(), records, nil)
	require.NoError(t, m.Begin(ctx, "1", "doc.pdf"))

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.HandleText(ctx, "1", "answer")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// Three serialized inputs walk all three steps exactly once
	assert.Equal(t, 1, records.count())
	state, _ := m.current(ctx, "1")
	assert.Equal(t, StepWaitingForThumbnailOrDone, state.Step)
}

func TestRedisStore_RejectsUnknownStep(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rs, err := NewRedisStore(client, "p", time.Minute)
	require.NoError(t, err)

	require.NoError(t, mr.Set("p:1", `{"userId":"1","step":"bogus"}`))
	_, err = rs.Get(context.Background(), "1")
	assert.Error(t, err)

	require.NoError(t, rs.Put(context.Background(), &State{UserID: "2", Step: StepWaitingForTitle}))
	assert.True(t, mr.TTL("p:2") > 0)

	_, err = NewRedisStore(nil, "", 0)
	assert.Error(t, err)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &State{UserID: "1", Step: StepWaitingForTitle}))

	got, _ := s.Get(ctx, "1")
	got.Step = StepWaitingForAuthor

	again, _ := s.Get(ctx, "1")
	assert.Equal(t, StepWaitingForTitle, again.Step)
	assert.Error(t, s.Put(ctx, &State{}))
	assert.Equal(t, 1, s.size())
}
