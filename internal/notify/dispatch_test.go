package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/signoff/internal/model"
	"github.com/nhle/signoff/internal/store"
	"github.com/nhle/signoff/tests/testutil"
)

type sent struct {
	to, subject, body string
}

type fakeEmail struct {
	mu   sync.Mutex
	sent []sent
	err  error
}

func (f *fakeEmail) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sent{to: to, subject: subject, body: body})
	return nil
}

type fakeTelegram struct {
	mu    sync.Mutex
	chats []string
	texts []string
}

func (f *fakeTelegram) Send(_ context.Context, chatID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chats = append(f.chats, chatID)
	f.texts = append(f.texts, text)
	return nil
}

// stuckTelegram never returns on its own and ignores cancellation.
type stuckTelegram struct {
	release chan struct{}
}

func (s *stuckTelegram) Send(context.Context, string, string) error {
	<-s.release
	return nil
}

type harness struct {
	store    *store.SQLiteStore
	clock    *testutil.Clock
	enqueuer *Enqueuer
}

func setup(t *testing.T) harness {
	t.Helper()
	s := testutil.NewTestStore(t)
	clock := &testutil.Clock{T: time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)}
	testutil.Seed(t, s, clock.T)
	return harness{
		store:    s,
		clock:    clock,
		enqueuer: NewEnqueuer(s, WithClock(clock.Now), WithLocation(time.UTC)),
	}
}

func (h harness) dispatcher(email EmailSender, telegram TelegramSender, cfg DispatcherConfig) *Dispatcher {
	return NewDispatcher(h.store, email, telegram, cfg, WithClock(h.clock.Now))
}

func (h harness) enqueue(t *testing.T, userID string, ch model.Channel) *model.Notification {
	t.Helper()
	n, err := h.enqueuer.Enqueue(context.Background(), Request{
		UserID:  userID,
		Title:   "Task overdue: <Pour concrete>",
		Message: "Was due yesterday.\nPlease update the status.",
		Type:    model.NotificationTaskOverdue,
		Channel: ch,
	})
	require.NoError(t, err)
	return n
}

func (h harness) reload(t *testing.T, id string) *model.Notification {
	t.Helper()
	n, err := h.store.GetNotification(context.Background(), id)
	require.NoError(t, err)
	return n
}

func (h harness) setChat(t *testing.T, userID, chatID string) {
	t.Helper()
	ctx := context.Background()
	u, err := h.store.GetUser(ctx, userID)
	require.NoError(t, err)
	u.TelegramChatID = &chatID
	require.NoError(t, h.store.UpsertUser(ctx, *u))
}

func TestDispatch_DeliversBothChannels(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.setChat(t, testutil.StaffID, "42")
	n := h.enqueue(t, testutil.StaffID, model.ChannelAll)

	email, telegram := &fakeEmail{}, &fakeTelegram{}
	stats, err := h.dispatcher(email, telegram, DispatcherConfig{}).Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 1, EmailSent: 1, TelegramSent: 1}, stats)

	require.Len(t, email.sent, 1)
	assert.Equal(t, "u-staff@example.com", email.sent[0].to)
	assert.Equal(t, n.Title, email.sent[0].subject)
	assert.Contains(t, email.sent[0].body, "&lt;Pour concrete&gt;")
	assert.Contains(t, email.sent[0].body, "<p>Please update the status.</p>")

	require.Len(t, telegram.chats, 1)
	assert.Equal(t, "42", telegram.chats[0])

	got := h.reload(t, n.ID)
	assert.True(t, got.EmailSent)
	assert.True(t, got.TelegramSent)
	require.NotNil(t, got.EmailSentAt)

	stats, err = h.dispatcher(email, telegram, DispatcherConfig{}).Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)
}

func TestDispatch_SkipsUnreachableChannels(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	u, err := h.store.GetUser(ctx, testutil.AccountantID)
	require.NoError(t, err)
	u.EmailEnabled = false
	require.NoError(t, h.store.UpsertUser(ctx, *u))

	noEmail := testutil.SeedUser(t, h.store, "u-noemail", model.RoleStaff)
	noEmail.Email = ""
	require.NoError(t, h.store.UpsertUser(ctx, noEmail))

	disabled := h.enqueue(t, testutil.AccountantID, model.ChannelEmail)
	missing := h.enqueue(t, "u-noemail", model.ChannelEmail)
	noChat := h.enqueue(t, testutil.StaffID, model.ChannelTelegram)

	email := &fakeEmail{}
	stats, err := h.dispatcher(email, &fakeTelegram{}, DispatcherConfig{}).Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Processed: 3, Skipped: 3}, stats)
	assert.Empty(t, email.sent)

	assert.True(t, h.reload(t, disabled.ID).EmailSent)
	assert.True(t, h.reload(t, missing.ID).EmailSent)
	assert.True(t, h.reload(t, noChat.ID).TelegramSent)
}

func TestDispatch_UnconfiguredChannelIsSatisfied(t *testing.T) {
	h := setup(t)
	n := h.enqueue(t, testutil.StaffID, model.ChannelAll)

	stats, err := h.dispatcher(nil, nil, DispatcherConfig{}).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Skipped)

	got := h.reload(t, n.ID)
	assert.True(t, got.EmailSent)
	assert.True(t, got.TelegramSent)
}

func TestDispatch_FailureIsRetried(t *testing.T) {
	h := setup(t)
	ctx := context.Background()
	h.setChat(t, testutil.StaffID, "42")
	n := h.enqueue(t, testutil.StaffID, model.ChannelAll)

	email := &fakeEmail{err: errors.New("451 try again later")}
	telegram := &fakeTelegram{}
	d := h.dispatcher(email, telegram, DispatcherConfig{MaxRetries: 2})

	stats, err := d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 1, stats.TelegramSent)

	got := h.reload(t, n.ID)
	assert.False(t, got.EmailSent)
	assert.True(t, got.TelegramSent, "the working channel is not resent")
	assert.Equal(t, 1, got.RetryCount)
	assert.Contains(t, got.LastError, "451 try again later")

	stats, err = d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Len(t, telegram.chats, 1)
	assert.Equal(t, 2, h.reload(t, n.ID).RetryCount)

	// The retry ceiling is reached.
	stats, err = d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)

	email.err = nil
	stats, err = h.dispatcher(email, telegram, DispatcherConfig{}).Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EmailSent, "no ceiling retries forever")
}

func TestDispatch_SendTimeout(t *testing.T) {
	h := setup(t)
	h.setChat(t, testutil.StaffID, "42")
	n := h.enqueue(t, testutil.StaffID, model.ChannelTelegram)

	stuck := &stuckTelegram{release: make(chan struct{})}
	defer close(stuck.release)

	d := h.dispatcher(nil, stuck, DispatcherConfig{SendTimeout: 50 * time.Millisecond})
	start := time.Now()
	stats, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, 1, stats.Failed)

	got := h.reload(t, n.ID)
	assert.False(t, got.TelegramSent)
	assert.Contains(t, got.LastError, "timed out")

	var delivery *model.DeliveryError
	assert.False(t, errors.As(err, &delivery), "delivery failures do not fail the run")
}

func TestDispatch_QuietHoursDeferDelivery(t *testing.T) {
	h := setup(t)
	ctx := context.Background()

	u, err := h.store.GetUser(ctx, testutil.StaffID)
	require.NoError(t, err)
	u.QuietHoursEnabled = true
	u.QuietHoursStart = "22:00"
	u.QuietHoursEnd = "07:00"
	require.NoError(t, h.store.UpsertUser(ctx, *u))

	h.clock.T = time.Date(2024, 3, 10, 23, 0, 0, 0, time.UTC)
	n := h.enqueue(t, testutil.StaffID, model.ChannelEmail)
	require.NotNil(t, n.ScheduledAt)
	assert.True(t, time.Date(2024, 3, 11, 7, 0, 0, 0, time.UTC).Equal(*n.ScheduledAt))

	email := &fakeEmail{}
	d := h.dispatcher(email, nil, DispatcherConfig{})

	h.clock.Advance(4 * time.Hour)
	stats, err := d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Processed)

	h.clock.Advance(4 * time.Hour)
	stats, err = d.Dispatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EmailSent)
	require.Len(t, email.sent, 1)
}

func TestDispatch_BatchSize(t *testing.T) {
	h := setup(t)
	for i := 0; i < 5; i++ {
		h.enqueue(t, testutil.StaffID, model.ChannelEmail)
	}

	email := &fakeEmail{}
	stats, err := h.dispatcher(email, nil, DispatcherConfig{BatchSize: 2}).Dispatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Processed)
	assert.Len(t, email.sent, 2)
}

func TestTelegramText_EscapesMarkdown(t *testing.T) {
	text := telegramText(&model.Notification{Title: "Fix *urgent* item_1", Message: "see [link]"})
	assert.Equal(t, "*Fix \\*urgent\\* item\\_1*\n\nsee \\[link]", text)
}
