package notify

import (
	"context"
	"errors"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gofulfill/pkg/downloads"
	"github.com/mihaimyh/gofulfill/storage/memory"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []Message
	err  error
}

func (m *recordingMailer) Send(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, msg)
	return nil
}

var testConfirmation = Confirmation{
	SessionID: "cs_1",
	Trigger:   "checkout.session.completed",
	Recipient: "a@b.com",
	Items: []Item{
		{ProductID: "vocabulary-one-hsk", Tier: "hsk3"},
		{ProductID: "writing-one-hsk", Tier: "hsk3"},
	},
	Downloads: []downloads.Link{
		{Label: "HSK 3 <vocabulary>", URL: "https://cdn.example.com/v3.pdf"},
	},
	AmountTotal: 1998,
	Currency:    "usd",
}

func TestDispatcher_Render(t *testing.T) {
	d, err := NewDispatcher(&recordingMailer{}, nil)
	require.NoError(t, err)

	msg, err := d.Render(testConfirmation)
	require.NoError(t, err)

	assert.Equal(t, "a@b.com", msg.To)
	assert.Equal(t, "Your purchase of 2 items", msg.Subject)
	assert.Contains(t, msg.Text, "- vocabulary-one-hsk (HSK3)")
	assert.Contains(t, msg.Text, "Total: 19.98 USD")
	assert.Contains(t, msg.Text, "HSK 3 <vocabulary>: https://cdn.example.com/v3.pdf")
	assert.Contains(t, msg.Text, "Order reference: cs_1")
	assert.Contains(t, msg.HTML, `<a href="https://cdn.example.com/v3.pdf">HSK 3 &lt;vocabulary&gt;</a>`)

	single := testConfirmation
	single.Items = single.Items[:1]
	msg, err = d.Render(single)
	require.NoError(t, err)
	assert.Equal(t, "Your purchase: vocabulary-one-hsk (HSK3)", msg.Subject)
}

func TestDispatcher_SendsOncePerSession(t *testing.T) {
	store := memory.New()
	mailer := &recordingMailer{}
	d, err := NewDispatcher(mailer, NewGuard(NewDocstoreLog(store)))
	require.NoError(t, err)

	require.NoError(t, d.PurchaseConfirmed(context.Background(), testConfirmation))
	require.NoError(t, d.PurchaseConfirmed(context.Background(), testConfirmation))
	assert.Len(t, mailer.sent, 1)

	entry, err := NewDocstoreLog(store).Lookup(context.Background(), "cs_1")
	require.NoError(t, err)
	assert.Equal(t, "vocabulary-one-hsk,writing-one-hsk", entry.ProductID)
}

func TestDispatcher_SendFailurePropagates(t *testing.T) {
	boom := errors.New("relay refused")
	d, err := NewDispatcher(&recordingMailer{err: boom}, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, d.PurchaseConfirmed(context.Background(), testConfirmation), boom)
}

func TestDispatcher_Skips(t *testing.T) {
	d, err := NewDispatcher(nil, nil)
	require.NoError(t, err)
	assert.False(t, d.Enabled())
	assert.NoError(t, d.PurchaseConfirmed(context.Background(), testConfirmation))

	mailer := &recordingMailer{}
	d, err = NewDispatcher(mailer, nil)
	require.NoError(t, err)
	noRecipient := testConfirmation
	noRecipient.Recipient = ""
	assert.NoError(t, d.PurchaseConfirmed(context.Background(), noRecipient))
	assert.Empty(t, mailer.sent)
}

func TestSMTPMailer_Send(t *testing.T) {
	_, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com"})
	assert.Error(t, err)

	m, err := NewSMTPMailer(SMTPConfig{
		Host: "smtp.example.com", Username: "user", Password: "pass", Sender: "shop@example.com",
	})
	require.NoError(t, err)
	m.now = func() time.Time { return fixedNow }

	var (
		gotAddr string
		gotAuth smtp.Auth
		gotTo   []string
		gotMsg  string
	)
	m.send = func(ctx context.Context, addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		assert.Equal(t, "shop@example.com", from)
		return nil
	}

	err = m.Send(context.Background(), Message{To: "a@b.com", Subject: "Héllo", Text: "plain body", HTML: "<p>html body</p>"})
	require.NoError(t, err)

	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"a@b.com"}, gotTo)
	assert.True(t, strings.HasPrefix(gotMsg, "From: shop@example.com\r\nTo: a@b.com\r\n"))
	assert.Contains(t, gotMsg, "Subject: =?UTF-8?q?H=C3=A9llo?=")
	assert.Contains(t, gotMsg, "multipart/alternative")
	assert.Contains(t, gotMsg, "plain body")
	assert.Contains(t, gotMsg, "<p>html body</p>")
}

// fakeSMTP accepts one conversation per connection and keeps the DATA payloads.
type fakeSMTP struct {
	ln   net.Listener
	mu   sync.Mutex
	data []string
	hang bool
}

func newFakeSMTP(t *testing.T, hang bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeSMTP{ln: ln, hang: hang}
	t.Cleanup(func() { ln.Close() })
	go f.serve()
	return f
}

func (f *fakeSMTP) serve() {
	for {
		conn, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(conn)
	}
}

func (f *fakeSMTP) handle(conn net.Conn) {
	defer conn.Close()
	if f.hang {
		_, _ = io.Copy(io.Discard, conn)
		return
	}
	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		switch cmd := strings.ToUpper(strings.SplitN(line, " ", 2)[0]); cmd {
		case "EHLO", "HELO":
			_ = tp.PrintfLine("250 localhost")
		case "MAIL", "RCPT", "RSET", "NOOP":
			_ = tp.PrintfLine("250 OK")
		case "DATA":
			_ = tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.data = append(f.data, string(body))
			f.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 unknown")
		}
	}
}

func (f *fakeSMTP) config() SMTPConfig {
	host, port, _ := net.SplitHostPort(f.ln.Addr().String())
	return SMTPConfig{Host: host, Port: port, Sender: "shop@example.com", Timeout: 2 * time.Second}
}

func TestSMTPMailer_DeliversOverSMTP(t *testing.T) {
	srv := newFakeSMTP(t, false)
	m, err := NewSMTPMailer(srv.config())
	require.NoError(t, err)

	require.NoError(t, m.Send(context.Background(), Message{To: "a@b.com", Subject: "Hi", Text: "plain body"}))

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.Len(t, srv.data, 1)
	assert.Contains(t, srv.data[0], "To: a@b.com")
	assert.Contains(t, srv.data[0], "plain body")
}

func TestSMTPMailer_HungServerTimesOut(t *testing.T) {
	srv := newFakeSMTP(t, true)
	cfg := srv.config()
	cfg.Timeout = 100 * time.Millisecond
	m, err := NewSMTPMailer(cfg)
	require.NoError(t, err)

	start := time.Now()
	err = m.Send(context.Background(), Message{To: "a@b.com", Text: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestSMTPMailer_CancelAbortsConversation(t *testing.T) {
	srv := newFakeSMTP(t, true)
	m, err := NewSMTPMailer(srv.config())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	start := time.Now()
	require.Error(t, m.Send(ctx, Message{To: "a@b.com", Text: "x"}))
	assert.Less(t, time.Since(start), time.Second)
}

func TestSMTPMailer_RejectsHeaderInjection(t *testing.T) {
	m, err := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Sender: "shop@example.com"})
	require.NoError(t, err)
	m.send = func(context.Context, string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send must not be called")
		return nil
	}
	assert.Error(t, m.Send(context.Background(), Message{To: "a@b.com\r\nBcc: x@y.com"}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, Message{To: "a@b.com"}), context.Canceled)
}
