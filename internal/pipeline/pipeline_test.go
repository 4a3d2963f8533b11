package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/replywatch/internal/detect"
	"github.com/matheus3301/replywatch/internal/ranking"
	"github.com/matheus3301/replywatch/internal/store"
	"go.uber.org/zap"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type mockSource struct {
	msgs []store.Message
	err  error
}

func (m *mockSource) FetchMessages(ctx context.Context, since time.Time) ([]store.Message, error) {
	return m.msgs, m.err
}

type mockSender struct {
	chatID string
	body   string
	calls  int
	err    error
}

func (m *mockSender) SendText(ctx context.Context, chatID, body string) (string, error) {
	m.calls++
	m.chatID = chatID
	m.body = body
	if m.err != nil {
		return "", m.err
	}
	return "sent-1", nil
}

type mockRanker struct {
	items []ranking.RankedItem
	err   error
	convs []detect.Conversation
}

func (m *mockRanker) Rank(ctx context.Context, convs []detect.Conversation) ([]ranking.RankedItem, error) {
	m.convs = convs
	if m.err != nil {
		return nil, m.err
	}
	if m.items != nil {
		return m.items, nil
	}
	return ranking.Fallback(convs), nil
}

func fixedConfig() func() Config {
	return func() Config {
		return Config{
			Lookback:      24 * time.Hour,
			IncludeGroups: false,
			ReportChatID:  "me@c.us",
		}
	}
}

func testPipeline(t *testing.T, source *mockSource, ranker *mockRanker, sender *mockSender) *Pipeline {
	t.Helper()
	p := New(testDB(t), source, ranker, sender, nil, fixedConfig(), zap.NewNop())
	p.now = func() time.Time { return time.Unix(1700003600, 0) }
	return p
}

func inboundAt(id string, ts time.Time) store.Message {
	return store.Message{
		MsgID:     id,
		ChatID:    "555111@c.us",
		ChatName:  "Alice",
		SenderID:  "555111@c.us",
		Body:      "are we still on?",
		Timestamp: ts.UnixMilli(),
	}
}

func TestExecuteSuccess(t *testing.T) {
	now := time.Unix(1700003600, 0)
	source := &mockSource{msgs: []store.Message{inboundAt("m1", now.Add(-time.Hour))}}
	ranker := &mockRanker{}
	sender := &mockSender{}
	p := testPipeline(t, source, ranker, sender)

	run, err := p.Execute(context.Background(), store.TriggerManual)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != store.RunStatusSuccess {
		t.Errorf("status = %q, want success (%s)", run.Status, run.ErrorDetail)
	}
	if run.MessageCount != 1 || run.UnansweredCount != 1 {
		t.Errorf("counts: messages=%d unanswered=%d, want 1/1", run.MessageCount, run.UnansweredCount)
	}
	if sender.calls != 1 || sender.chatID != "me@c.us" {
		t.Errorf("report not delivered: calls=%d chat=%q", sender.calls, sender.chatID)
	}
	if !strings.Contains(sender.body, "Alice") {
		t.Errorf("report body missing the chat: %q", sender.body)
	}
	if run.Report != sender.body {
		t.Error("persisted report differs from the delivered one")
	}

	stored, err := p.db.GetRun(run.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if stored == nil || stored.Status != store.RunStatusSuccess {
		t.Errorf("run not finalized in store: %+v", stored)
	}
}

func TestExecuteFetchFailureIsPartial(t *testing.T) {
	now := time.Unix(1700003600, 0)
	source := &mockSource{err: errors.New("gateway down")}
	sender := &mockSender{}
	p := testPipeline(t, source, &mockRanker{}, sender)

	// Previously ingested traffic still feeds the run.
	if _, err := p.db.InsertMessages([]store.Message{inboundAt("old-1", now.Add(-2 * time.Hour))}); err != nil {
		t.Fatal(err)
	}

	run, err := p.Execute(context.Background(), store.TriggerSchedule)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != store.RunStatusPartial {
		t.Errorf("status = %q, want partial", run.Status)
	}
	if !strings.Contains(run.ErrorDetail, "gateway down") {
		t.Errorf("error detail = %q", run.ErrorDetail)
	}
	if run.UnansweredCount != 1 {
		t.Errorf("unanswered = %d, want 1 from stored messages", run.UnansweredCount)
	}
	if sender.calls != 1 {
		t.Error("report should still be delivered on a partial run")
	}
}

func TestExecuteRankerFailureFallsBack(t *testing.T) {
	now := time.Unix(1700003600, 0)
	source := &mockSource{msgs: []store.Message{
		inboundAt("m1", now.Add(-time.Hour)),
		{MsgID: "m2", ChatID: "555222@c.us", ChatName: "Bob", SenderID: "555222@c.us",
			Body: "ping", Timestamp: now.Add(-30 * time.Minute).UnixMilli()},
	}}
	ranker := &mockRanker{err: &ranking.Error{Kind: ranking.KindServiceUnavailable, Err: errors.New("upstream 503")}}
	sender := &mockSender{}
	p := testPipeline(t, source, ranker, sender)

	run, err := p.Execute(context.Background(), store.TriggerManual)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != store.RunStatusPartial {
		t.Errorf("status = %q, want partial", run.Status)
	}
	if run.RankedCount != 0 {
		t.Errorf("ranked = %d, want 0 on fallback", run.RankedCount)
	}
	// Fallback keeps detection order: Alice has waited longer than Bob.
	if alice, bob := strings.Index(sender.body, "Alice"), strings.Index(sender.body, "Bob"); alice < 0 || bob < 0 || alice > bob {
		t.Errorf("fallback order wrong in report:\n%s", sender.body)
	}
}

func TestExecuteSenderFailureKeepsReport(t *testing.T) {
	now := time.Unix(1700003600, 0)
	source := &mockSource{msgs: []store.Message{inboundAt("m1", now.Add(-time.Hour))}}
	sender := &mockSender{err: errors.New("send rejected")}
	p := testPipeline(t, source, &mockRanker{}, sender)

	run, err := p.Execute(context.Background(), store.TriggerManual)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != store.RunStatusPartial {
		t.Errorf("status = %q, want partial", run.Status)
	}
	if run.Report == "" {
		t.Error("report must be retained when delivery fails")
	}

	// The retained report is what resend delivers.
	sender.err = nil
	resent, err := p.ResendLatestReport(context.Background())
	if err != nil {
		t.Fatalf("ResendLatestReport: %v", err)
	}
	if resent.RunID != run.RunID {
		t.Errorf("resent run %s, want %s", resent.RunID, run.RunID)
	}
	if sender.body != run.Report {
		t.Error("resend delivered a different report")
	}
}

func TestExecuteEmptyWindow(t *testing.T) {
	source := &mockSource{}
	sender := &mockSender{}
	p := testPipeline(t, source, &mockRanker{}, sender)

	run, err := p.Execute(context.Background(), store.TriggerManual)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != store.RunStatusSuccess {
		t.Errorf("status = %q, want success", run.Status)
	}
	if run.UnansweredCount != 0 {
		t.Errorf("unanswered = %d, want 0", run.UnansweredCount)
	}
	if !strings.Contains(sender.body, "All caught up") {
		t.Errorf("empty report missing all-clear line: %q", sender.body)
	}
}

func TestResendWithoutRuns(t *testing.T) {
	p := testPipeline(t, &mockSource{}, &mockRanker{}, &mockSender{})
	if _, err := p.ResendLatestReport(context.Background()); err == nil {
		t.Fatal("want error when no run exists")
	}
}
