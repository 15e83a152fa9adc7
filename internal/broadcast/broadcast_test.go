package broadcast

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/arashpm/leech-relay-bot/internal/ledger"
)

type fakeSender struct {
	fail     map[int64]error
	attempts []int64
	payloads []Payload
}

func (f *fakeSender) Send(_ context.Context, chatID int64, p Payload) error {
	f.attempts = append(f.attempts, chatID)
	f.payloads = append(f.payloads, p)
	if err, ok := f.fail[chatID]; ok {
		return err
	}
	return nil
}

var (
	errBlocked   = errors.New("forbidden: bot was blocked by the user")
	errGone      = errors.New("forbidden: user is deactivated")
	errTransient = errors.New("too many requests")
)

func testClassifier(err error) Failure {
	switch {
	case errors.Is(err, errBlocked):
		return FailureBlocked
	case errors.Is(err, errGone):
		return FailureGone
	}
	return FailureTransient
}

func openTestLedger(t *testing.T, n int64, flagged map[int64]string) *ledger.Ledger {
	t.Helper()
	l, err := ledger.Open(filepath.Join(t.TempDir(), "users.db"))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })

	ctx := context.Background()
	for id := int64(1); id <= n; id++ {
		if err := l.Upsert(ctx, id, id); err != nil {
			t.Fatalf("upsert %d: %v", id, err)
		}
	}
	for id, flag := range flagged {
		var err error
		switch flag {
		case "blocked":
			err = l.SetBlocked(ctx, id, true)
		case "deleted":
			err = l.SetDeleted(ctx, id, true)
		}
		if err != nil {
			t.Fatalf("flag %d: %v", id, err)
		}
	}
	return l
}

func TestRunSkipsIneligibleRecords(t *testing.T) {
	l := openTestLedger(t, 5, map[int64]string{2: "blocked", 4: "deleted"})
	s := &fakeSender{}
	b := New(l, s, testClassifier)

	rep, err := b.Run(context.Background(), Payload{Kind: KindText, Text: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if diff := cmp.Diff([]int64{1, 3, 5}, s.attempts); diff != "" {
		t.Errorf("attempts mismatch (-want +got):\n%s", diff)
	}
	want := Report{Total: 3, Succeeded: 3, Failed: 0, Counts: ledger.Counts{Total: 5, Blocked: 1, Deleted: 1}}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}
}

func TestRunFlagsPermanentFailures(t *testing.T) {
	l := openTestLedger(t, 4, nil)
	s := &fakeSender{fail: map[int64]error{
		2: errBlocked,
		3: errGone,
		4: errTransient,
	}}
	b := New(l, s, testClassifier)

	rep, err := b.Run(context.Background(), Payload{Kind: KindText, Text: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// One recipient failing never aborts the loop.
	if len(s.attempts) != 4 {
		t.Errorf("attempted %d recipients, want all 4", len(s.attempts))
	}
	want := Report{Total: 4, Succeeded: 1, Failed: 3, Counts: ledger.Counts{Total: 4, Blocked: 1, Deleted: 1}}
	if diff := cmp.Diff(want, rep); diff != "" {
		t.Errorf("report mismatch (-want +got):\n%s", diff)
	}

	ctx := context.Background()
	r2, err := l.Get(ctx, 2)
	if err != nil || !r2.Blocked {
		t.Errorf("record 2 blocked=%v err=%v, want blocked", r2.Blocked, err)
	}
	r3, err := l.Get(ctx, 3)
	if err != nil || !r3.Deleted {
		t.Errorf("record 3 deleted=%v err=%v, want deleted", r3.Deleted, err)
	}
	r4, err := l.Get(ctx, 4)
	if err != nil || r4.Blocked || r4.Deleted {
		t.Errorf("record 4 mutated on transient failure: %+v err=%v", r4, err)
	}
}

func TestRunSkipsFreshlyBlockedOnNextRun(t *testing.T) {
	l := openTestLedger(t, 3, nil)
	s := &fakeSender{fail: map[int64]error{2: errBlocked}}
	b := New(l, s, testClassifier)

	if _, err := b.Run(context.Background(), Payload{Kind: KindText, Text: "one"}); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	s2 := &fakeSender{}
	b2 := New(l, s2, testClassifier)
	rep, err := b2.Run(context.Background(), Payload{Kind: KindText, Text: "two"})
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 3}, s2.attempts); diff != "" {
		t.Errorf("second run attempts (-want +got):\n%s", diff)
	}
	if rep.Total != 2 {
		t.Errorf("second run Total = %d, want 2", rep.Total)
	}
}

func TestRunMediaPayloadReachesEveryRecipient(t *testing.T) {
	l := openTestLedger(t, 3, nil)
	s := &fakeSender{}
	b := New(l, s, testClassifier)

	p := Payload{Kind: KindPhoto, FileID: "photo-file-id", Caption: "enjoy"}
	rep, err := b.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Succeeded+rep.Failed != rep.Total {
		t.Errorf("succeeded+failed = %d, total = %d", rep.Succeeded+rep.Failed, rep.Total)
	}
	for i, got := range s.payloads {
		if diff := cmp.Diff(p, got); diff != "" {
			t.Errorf("payload %d mismatch (-want +got):\n%s", i, diff)
		}
	}
}

func TestRunNilClassifierNeverMutates(t *testing.T) {
	l := openTestLedger(t, 2, nil)
	s := &fakeSender{fail: map[int64]error{1: errBlocked, 2: errGone}}
	b := New(l, s, nil)

	rep, err := b.Run(context.Background(), Payload{Kind: KindText, Text: "hi"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Failed != 2 {
		t.Errorf("Failed = %d, want 2", rep.Failed)
	}
	if rep.Counts.Blocked != 0 || rep.Counts.Deleted != 0 {
		t.Errorf("nil classifier mutated ledger: %+v", rep.Counts)
	}
}

func TestRunHonorsCancellation(t *testing.T) {
	l := openTestLedger(t, 3, nil)
	s := &fakeSender{}
	b := New(l, s, testClassifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Run(ctx, Payload{Kind: KindText, Text: "hi"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
