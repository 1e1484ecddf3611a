package runner

import (
	"context"
	"fmt"
	"testing"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/radiorabe/kanboard-tasks-from-email/model"
)

// fakeSession serves a fixed batch of messages keyed by UID.
type fakeSession struct {
	uids      []imapv2.UID
	messages  map[imapv2.UID][]byte
	searchErr error
	fetchErr  map[imapv2.UID]error

	fetched []imapv2.UID
	peeked  []bool
}

func (s *fakeSession) SearchUnseen() ([]imapv2.UID, error) {
	return s.uids, s.searchErr
}

func (s *fakeSession) Fetch(uid imapv2.UID, peek bool) (model.Message, error) {
	s.fetched = append(s.fetched, uid)
	s.peeked = append(s.peeked, peek)
	if err := s.fetchErr[uid]; err != nil {
		return model.Message{}, err
	}
	raw := s.messages[uid]
	return model.Message{UID: uid, Size: int64(len(raw)), Raw: raw}, nil
}

func TestRunProcessesAllUnseen(t *testing.T) {
	session := &fakeSession{
		uids: []imapv2.UID{3, 7},
		messages: map[imapv2.UID][]byte{
			3: plainMessage("first", "body"),
			7: plainMessage("second", "body"),
		},
	}

	kb := newFakeAPI()
	r := New(testConfig(), kb, testLogger())

	summary, err := r.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := session.fetched; len(got) != 2 || got[0] != 3 || got[1] != 7 {
		t.Errorf("fetched = %v, want [3 7] in order", got)
	}
	for _, peek := range session.peeked {
		if peek {
			t.Error("a normal run must fetch without peek so messages get marked seen")
		}
	}
	if summary.Messages != 2 {
		t.Errorf("Messages = %d, want 2", summary.Messages)
	}
	if summary.TasksCreated != 2 {
		t.Errorf("TasksCreated = %d, want 2", summary.TasksCreated)
	}
}

func TestRunEmptyMailbox(t *testing.T) {
	session := &fakeSession{}

	kb := newFakeAPI()
	r := New(testConfig(), kb, testLogger())

	summary, err := r.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Messages != 0 || len(kb.createdTasks) != 0 {
		t.Errorf("summary = %+v, tasks = %v, want nothing done", summary, kb.createdTasks)
	}
}

func TestRunAbortsOnFirstFailure(t *testing.T) {
	session := &fakeSession{
		uids: []imapv2.UID{1, 2, 3},
		messages: map[imapv2.UID][]byte{
			1: plainMessage("first", "body"),
			3: plainMessage("third", "body"),
		},
		fetchErr: map[imapv2.UID]error{2: fmt.Errorf("connection reset")},
	}

	kb := newFakeAPI()
	r := New(testConfig(), kb, testLogger())

	summary, err := r.Run(context.Background(), session)
	if err == nil {
		t.Fatal("Run() error = nil, want the fetch failure surfaced")
	}

	if got := session.fetched; len(got) != 2 {
		t.Errorf("fetched = %v, the batch must stop at the failing message", got)
	}
	if summary.Messages != 1 {
		t.Errorf("Messages = %d, want 1 processed before the failure", summary.Messages)
	}
	if len(kb.createdTasks) != 1 || kb.createdTasks[0].Title != "first" {
		t.Errorf("created tasks = %v", kb.createdTasks)
	}
}

func TestRunDryRunFetchesWithPeek(t *testing.T) {
	session := &fakeSession{
		uids:     []imapv2.UID{5},
		messages: map[imapv2.UID][]byte{5: plainMessage("subject", "body")},
	}

	cfg := testConfig()
	cfg.DryRun = true
	kb := newFakeAPI()
	r := New(cfg, kb, testLogger())

	summary, err := r.Run(context.Background(), session)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(session.peeked) != 1 || !session.peeked[0] {
		t.Errorf("peeked = %v, dry-run must leave messages unseen", session.peeked)
	}
	if summary.DryRunSkipped != 1 {
		t.Errorf("DryRunSkipped = %d, want 1", summary.DryRunSkipped)
	}
}

func TestRunSearchFailure(t *testing.T) {
	session := &fakeSession{searchErr: fmt.Errorf("mailbox gone")}

	r := New(testConfig(), newFakeAPI(), testLogger())
	if _, err := r.Run(context.Background(), session); err == nil {
		t.Fatal("Run() error = nil, want the search failure surfaced")
	}
}
