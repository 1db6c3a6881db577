package failurecounter

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}

func TestCounterRecordFailureNewKind(t *testing.T) {
	state := &State{}
	logger, logs := newObservedLogger()
	c := New(ModeErrno, state, logger, "group1/10.0.0.1")

	c.RecordFailure(111, "connection refused")

	if state.FailCount != 1 {
		t.Errorf("got FailCount %d, want 1", state.FailCount)
	}
	if state.LastErrno != 111 {
		t.Errorf("got LastErrno %d, want 111", state.LastErrno)
	}
	if state.ErrorInfoText != "connection refused" {
		t.Errorf("got ErrorInfoText %q", state.ErrorInfoText)
	}

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Message != "probe failed" {
		t.Errorf("got message %q, want %q", entries[0].Message, "probe failed")
	}
}

func TestCounterRecordFailureSameKindIncrements(t *testing.T) {
	state := &State{}
	logger, logs := newObservedLogger()
	c := New(ModeErrno, state, logger, "group1/10.0.0.1")

	c.RecordFailure(111, "connection refused")
	c.RecordFailure(111, "connection refused")
	c.RecordFailure(111, "connection refused")

	if state.FailCount != 3 {
		t.Errorf("got FailCount %d, want 3", state.FailCount)
	}

	// Only the first (new-kind) failure logs; repeats of the same kind
	// are silent until either a kind change or recovery.
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Message != "probe failed" {
		t.Errorf("got message %q, want %q", entries[0].Message, "probe failed")
	}
}

func TestCounterRecordFailureKindChangeResets(t *testing.T) {
	state := &State{}
	logger, logs := newObservedLogger()
	c := New(ModeErrno, state, logger, "group1/10.0.0.1")

	c.RecordFailure(111, "refused")
	c.RecordFailure(111, "refused")
	c.RecordFailure(104, "reset")

	if state.FailCount != 1 {
		t.Errorf("got FailCount %d, want 1 after kind change", state.FailCount)
	}
	if state.LastErrno != 104 {
		t.Errorf("got LastErrno %d, want 104", state.LastErrno)
	}

	// The kind change must emit exactly two lines: the summary for the
	// prior kind's streak (FailCount was 2, > 1) and the new-kind line.
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Message != "failed after attempts" {
		t.Errorf("got first message %q, want %q", entries[0].Message, "failed after attempts")
	}
	if entries[1].Message != "probe failed" {
		t.Errorf("got second message %q, want %q", entries[1].Message, "probe failed")
	}
}

func TestCounterRecordSuccessResetsFailCount(t *testing.T) {
	state := &State{FailCount: 5, LastErrno: 111, ErrorInfoText: "connection refused"}
	logger, logs := newObservedLogger()
	c := New(ModeErrno, state, logger, "group1/10.0.0.1")

	c.RecordSuccess()

	if state.FailCount != 0 {
		t.Errorf("got FailCount %d, want 0", state.FailCount)
	}

	// A streak exceeding 1 gets a summary line before the recovery line.
	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("got %d log entries, want 2: %+v", len(entries), entries)
	}
	if entries[0].Message != "failed after attempts" {
		t.Errorf("got first message %q, want %q", entries[0].Message, "failed after attempts")
	}
	if entries[1].Message != "alive after failed attempts" {
		t.Errorf("got second message %q, want %q", entries[1].Message, "alive after failed attempts")
	}
}

func TestCounterRecordSuccessAfterSingleFailureNoSummary(t *testing.T) {
	state := &State{FailCount: 1, LastErrno: 111}
	logger, logs := newObservedLogger()
	c := New(ModeErrno, state, logger, "group1/10.0.0.1")

	c.RecordSuccess()

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1: %+v", len(entries), entries)
	}
	if entries[0].Message != "alive after failed attempts" {
		t.Errorf("got message %q, want %q", entries[0].Message, "alive after failed attempts")
	}
}

func TestCounterRecordSuccessNoPriorFailureIsSilent(t *testing.T) {
	state := &State{}
	logger, logs := newObservedLogger()
	c := New(ModeErrno, state, logger, "group1/10.0.0.1")

	c.RecordSuccess()

	if len(logs.All()) != 0 {
		t.Fatalf("got %d log entries, want 0: %+v", len(logs.All()), logs.All())
	}
}

func TestCounterHTTPStatusMode(t *testing.T) {
	state := &State{}
	c := New(ModeHTTPStatus, state, zap.NewNop(), "group1/10.0.0.1")

	c.RecordFailure(503, "status=503")

	if state.LastHTTPCode != 503 {
		t.Errorf("got LastHTTPCode %d, want 503", state.LastHTTPCode)
	}
	if state.LastErrno != 0 {
		t.Errorf("expected LastErrno untouched in HTTP mode, got %d", state.LastErrno)
	}
}

func TestSummarizeIfFailing(t *testing.T) {
	logger, logs := newObservedLogger()

	SummarizeIfFailing(logger, "group1/10.0.0.1", &State{FailCount: 0})
	if len(logs.All()) != 0 {
		t.Fatalf("got %d log entries for FailCount 0, want 0", len(logs.All()))
	}

	SummarizeIfFailing(logger, "group1/10.0.0.1", &State{FailCount: 4, ErrorInfoText: "connection refused"})
	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d log entries for FailCount 4, want 1", len(entries))
	}
	if entries[0].Message != "server still failing at shutdown" {
		t.Errorf("got message %q, want %q", entries[0].Message, "server still failing at shutdown")
	}
}
