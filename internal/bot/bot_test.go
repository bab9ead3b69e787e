package bot

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrimpsizemoose/taslim/internal/membership"
	"github.com/shrimpsizemoose/taslim/internal/models"
	"github.com/shrimpsizemoose/taslim/internal/ratelimit"
	"github.com/shrimpsizemoose/taslim/internal/signer"
	"github.com/shrimpsizemoose/taslim/internal/store"
	"github.com/shrimpsizemoose/taslim/internal/store/sqlite"
)

const tgUser = int64(111)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent, "no message sent")
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeOracle struct {
	status   membership.Status
	err      error
	lastChat int64
	lastUser int64
}

func (f *fakeOracle) IsMember(_ context.Context, chatID, userID int64) (membership.Status, error) {
	f.lastChat, f.lastUser = chatID, userID
	return f.status, f.err
}

type testBot struct {
	bot    *Bot
	store  *sqlite.SQLiteStore
	sender *fakeSender
	oracle *fakeOracle
	signer *signer.Signer
}

func setupBot(t *testing.T) *testBot {
	s, err := sqlite.NewSQLiteStore(&store.DBConfig{DSN: ":memory:", MigrationsDir: "../../migrations"})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	// the roster tool stored the legacy positive form for this group
	_, err = s.DB.Exec(`INSERT INTO sections (id, name, telegram_chat_id, invite_link) VALUES
		(1, 'أول <أ>', 1234567890, 'https://t.me/+abc'),
		(2, 'أول ب', NULL, '')`)
	require.NoError(t, err)
	_, err = s.DB.Exec(`INSERT INTO projects (id, section_id, title) VALUES (5, 1, 'بحث & تقرير'), (8, 2, 'بلا مجموعة')`)
	require.NoError(t, err)
	_, err = s.DB.Exec(`INSERT INTO students (id, section_id, full_name, normalized_name) VALUES
		(3, 1, 'محمد أحمد علي حسن', 'محمد احمد علي حسن'),
		(11, 2, 'سارة خالد عمر نبيل', 'ساره خالد عمر نبيل')`)
	require.NoError(t, err)

	sgn, err := signer.New("bot-secret")
	require.NoError(t, err)

	sender := &fakeSender{}
	oracle := &fakeOracle{status: membership.StatusActive}
	b := New(sender, s, oracle, sgn, ratelimit.NewMemoryCounter(), Options{
		StartRule: ratelimit.Rule{Max: 3, Window: time.Minute},
	})

	return &testBot{bot: b, store: s, sender: sender, oracle: oracle, signer: sgn}
}

func (tb *testBot) pending(t *testing.T, projectID, studentID int64) *models.OTP {
	otp, _, err := tb.store.CreatePending(context.Background(), store.CreatePendingParams{
		ProjectID:   projectID,
		StudentID:   studentID,
		StudentName: "محمد احمد علي حسن",
	})
	require.NoError(t, err)
	return otp
}

func message(text string) *tgbotapi.Message {
	msg := &tgbotapi.Message{
		Text: text,
		Chat: &tgbotapi.Chat{ID: tgUser, Type: "private"},
		From: &tgbotapi.User{ID: tgUser, UserName: "mohammed"},
	}
	if strings.HasPrefix(text, "/") {
		length := strings.IndexAny(text, " @")
		if length < 0 {
			length = len(text)
		}
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	}
	return msg
}

func (tb *testBot) start(t *testing.T, param string) tgbotapi.MessageConfig {
	tb.bot.handleMessage(context.Background(), message("/start "+param))
	return tb.sender.last(t)
}

func (tb *testBot) logs(t *testing.T, otpID int64, action models.OTPAction) []models.OTPLogEntry {
	all, err := tb.store.ListLogs(context.Background(), otpID)
	require.NoError(t, err)
	var out []models.OTPLogEntry
	for _, e := range all {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func TestStartDeliversCodeToMember(t *testing.T) {
	tb := setupBot(t)
	ctx := context.Background()
	otp := tb.pending(t, 5, 3)

	reply := tb.start(t, tb.signer.SignID(otp.ID))

	assert.Equal(t, tgUser, reply.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, reply.ParseMode)
	assert.Contains(t, reply.Text, "<code>"+otp.Code+"</code>")
	assert.Contains(t, reply.Text, "بحث &amp; تقرير")
	assert.Contains(t, reply.Text, "10 دقيقة")

	assert.Equal(t, int64(-1001234567890), tb.oracle.lastChat)
	assert.Equal(t, tgUser, tb.oracle.lastUser)

	bound, err := tb.store.GetOTP(ctx, otp.ID)
	require.NoError(t, err)
	assert.Equal(t, models.OTPStatusPending, bound.Status)
	require.NotNil(t, bound.TelegramUserID)
	assert.Equal(t, tgUser, *bound.TelegramUserID)
	require.NotNil(t, bound.TelegramChatID)
	assert.Equal(t, int64(-1001234567890), *bound.TelegramChatID)
	require.NotNil(t, bound.TelegramUsername)
	assert.Equal(t, "mohammed", *bound.TelegramUsername)

	student, err := tb.store.GetStudent(ctx, 3)
	require.NoError(t, err)
	assert.True(t, student.JoinedTelegram)
	require.NotNil(t, student.TelegramUserID)
	assert.Equal(t, tgUser, *student.TelegramUserID)

	sent := tb.logs(t, otp.ID, models.ActionSent)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Details, "delivered")
	assert.NotContains(t, sent[0].Details, otp.Code)

	// the student can now verify with the delivered code
	res, err := tb.store.TryVerify(ctx, otp.ID, otp.Code, models.ClientInfo{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.SubmitToken)
}

func TestStartRefusesNonMember(t *testing.T) {
	tb := setupBot(t)
	ctx := context.Background()
	tb.oracle.status = membership.StatusLeft
	otp := tb.pending(t, 5, 3)

	reply := tb.start(t, tb.signer.SignID(otp.ID))

	assert.Contains(t, reply.Text, "https://t.me/+abc")
	assert.Contains(t, reply.Text, "أول &lt;أ&gt;")
	assert.NotContains(t, reply.Text, otp.Code)

	sent := tb.logs(t, otp.ID, models.ActionSent)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].Details, "not delivered")
	assert.Contains(t, sent[0].Details, string(membership.StatusLeft))

	unbound, err := tb.store.GetOTP(ctx, otp.ID)
	require.NoError(t, err)
	assert.Nil(t, unbound.TelegramUserID)

	// without the code every guess is a mismatch until the OTP locks
	wrong := "000000"
	if otp.Code == wrong {
		wrong = "111111"
	}
	for left := 4; left >= 0; left-- {
		_, err := tb.store.TryVerify(ctx, otp.ID, wrong, models.ClientInfo{})
		e, ok := models.AsError(err)
		require.True(t, ok)
		assert.Equal(t, models.CodeCodeMismatch, e.Code)
		assert.Equal(t, left, *e.AttemptsLeft)
	}
}

func TestStartBotForbidden(t *testing.T) {
	tb := setupBot(t)
	tb.oracle.status = membership.StatusBotForbidden
	otp := tb.pending(t, 5, 3)

	reply := tb.start(t, tb.signer.SignID(otp.ID))
	assert.Equal(t, models.MessageFor(models.CodeBotForbidden), reply.Text)
	assert.NotContains(t, reply.Text, otp.Code)
	assert.Len(t, tb.logs(t, otp.ID, models.ActionSent), 1)
}

func TestStartRejections(t *testing.T) {
	tb := setupBot(t)
	tb.bot.opts.StartRule = ratelimit.Rule{Max: 100, Window: time.Minute}
	ctx := context.Background()

	assert.Equal(t, invalidLink, tb.start(t, "42_forgedsignature").Text)
	assert.Equal(t, models.MessageFor(models.CodeOTPNotFound), tb.start(t, tb.signer.SignID(999)).Text)

	noGroup := tb.pending(t, 8, 11)
	assert.Equal(t, models.MessageFor(models.CodeTelegramNotConfigured), tb.start(t, tb.signer.SignID(noGroup.ID)).Text)

	expired := tb.pending(t, 5, 3)
	_, err := tb.store.DB.Exec(`UPDATE project_otp SET expires_at = ? WHERE id = ?`, time.Now().Unix(), expired.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFor(models.CodeOTPExpired), tb.start(t, tb.signer.SignID(expired.ID)).Text)

	verified := tb.pending(t, 5, 3)
	_, err = tb.store.TryVerify(ctx, verified.ID, verified.Code, models.ClientInfo{})
	require.NoError(t, err)
	assert.Equal(t, alreadyVerified, tb.start(t, tb.signer.SignID(verified.ID)).Text)

	_, err = tb.store.DB.Exec(`UPDATE project_otp SET status = 'used' WHERE id = ?`, verified.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MessageFor(models.CodeOTPAlreadyUsed), tb.start(t, tb.signer.SignID(verified.ID)).Text)
}

func TestStartRateLimited(t *testing.T) {
	tb := setupBot(t)
	otp := tb.pending(t, 5, 3)
	param := tb.signer.SignID(otp.ID)

	for i := 0; i < 3; i++ {
		assert.Contains(t, tb.start(t, param).Text, otp.Code)
	}
	assert.Equal(t, models.MessageFor(models.CodeRateLimited), tb.start(t, param).Text)
}

func TestStartOracleFailure(t *testing.T) {
	tb := setupBot(t)
	tb.oracle.err = context.DeadlineExceeded
	otp := tb.pending(t, 5, 3)

	reply := tb.start(t, tb.signer.SignID(otp.ID))
	assert.Equal(t, models.MessageFor(models.CodeUpstreamTimeout), reply.Text)
	assert.Empty(t, tb.logs(t, otp.ID, models.ActionSent))

	tb.oracle.err = errors.New("connection refused")
	reply = tb.start(t, tb.signer.SignID(otp.ID))
	assert.Equal(t, models.MessageFor(models.CodeInternalError), reply.Text)
}

func TestGreetings(t *testing.T) {
	tb := setupBot(t)
	ctx := context.Background()

	for _, text := range []string{"/start", "/help", "hello", "/unknown"} {
		tb.bot.handleMessage(ctx, message(text))
		assert.Equal(t, greeting, tb.sender.last(t).Text, text)
	}

	group := message("/start abc")
	group.Chat.Type = "supergroup"
	before := tb.sender.count()
	tb.bot.handleMessage(ctx, group)
	assert.Equal(t, before, tb.sender.count(), "group messages are ignored")
}

func TestRunStopsOnCancel(t *testing.T) {
	tb := setupBot(t)
	otp := tb.pending(t, 5, 3)

	updates := make(chan tgbotapi.Update, 2)
	updates <- tgbotapi.Update{UpdateID: 1}
	updates <- tgbotapi.Update{UpdateID: 2, Message: message("/start " + tb.signer.SignID(otp.ID))}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tb.bot.Run(ctx, updates) }()

	require.Eventually(t, func() bool { return tb.sender.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Contains(t, tb.sender.last(t).Text, otp.Code)
}
