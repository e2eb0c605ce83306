package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go-microbank/models"
)

func newFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s, dir
}

func TestFileStoreLoadEmpty(t *testing.T) {
	s, _ := newFileStore(t)
	snap, err := s.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Customers) != 0 || len(snap.Accounts) != 0 || len(snap.Sequences) != 0 {
		t.Fatalf("expected empty snapshot, got %+v", snap)
	}
}

func TestFileStoreApplyRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	first := &Changeset{
		Customers: []models.Customer{{ID: 1, Username: "alice", PasswordHash: "ab", CreatedAt: now}},
		Accounts: []models.Account{
			{ID: 1, CustomerID: 1, Name: models.MainAccountName, Balance: 15000, CreatedAt: now},
			{ID: 2, CustomerID: 1, Name: "savings", Balance: 0, CreatedAt: now},
		},
		Offers:   []models.MicroloanOffer{{ID: 1, CustomerID: 1, Amount: 10000, InterestRate: 500}},
		Requests: []models.MicroloanRequest{{ID: 1, CustomerID: 1, Amount: 500, InterestRate: 100}},
	}
	first.SetSequence(SeqCustomers, 1)
	first.SetSequence(SeqAccounts, 2)
	if err := s.Apply(ctx, first); err != nil {
		t.Fatalf("Apply first: %v", err)
	}

	second := &Changeset{
		Accounts:        []models.Account{{ID: 1, CustomerID: 1, Name: models.MainAccountName, Balance: 5000, CreatedAt: now}},
		DeletedAccounts: []int64{2},
		ConsumedOffers:  []int64{1},
		Loans: []models.Microloan{{
			ID: 1, LoanerID: 1, TakerID: 2, Amount: 10000, InterestRate: 500,
			CreatedAt: now, ExpiresAt: now.Add(models.LoanTerm),
		}},
		Transactions: []models.Transaction{{ID: "tx-1", CustomerID: 2, CounterpartyID: 1, Type: models.TxLoanFunding, Amount: 10000}},
	}
	second.SetSequence(SeqLoans, 1)
	if err := s.Apply(ctx, second); err != nil {
		t.Fatalf("Apply second: %v", err)
	}

	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(snap.Accounts) != 1 || snap.Accounts[0].Balance != 5000 {
		t.Errorf("expected one account with balance 50.00, got %+v", snap.Accounts)
	}
	if len(snap.Offers) != 0 {
		t.Errorf("expected consumed offer to be gone, got %+v", snap.Offers)
	}
	if len(snap.Requests) != 1 {
		t.Errorf("expected request to survive, got %+v", snap.Requests)
	}
	if len(snap.Loans) != 1 || !snap.Loans[0].ExpiresAt.Equal(now.Add(models.LoanTerm)) {
		t.Errorf("unexpected loans %+v", snap.Loans)
	}
	if len(snap.Transactions) != 1 || snap.Transactions[0].ID != "tx-1" {
		t.Errorf("unexpected transactions %+v", snap.Transactions)
	}
	if snap.Sequences[SeqAccounts] != 2 || snap.Sequences[SeqLoans] != 1 {
		t.Errorf("unexpected sequences %+v", snap.Sequences)
	}
}

func TestFileStoreSequencesNeverMoveBackwards(t *testing.T) {
	ctx := context.Background()
	s, _ := newFileStore(t)

	cs := &Changeset{}
	cs.SetSequence(SeqRequests, 7)
	if err := s.Apply(ctx, cs); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	cs = &Changeset{}
	cs.SetSequence(SeqRequests, 3)
	if err := s.Apply(ctx, cs); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	snap, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if snap.Sequences[SeqRequests] != 7 {
		t.Errorf("expected 7, got %d", snap.Sequences[SeqRequests])
	}
}

func TestFileStoreFlushOverwrites(t *testing.T) {
	ctx := context.Background()
	s, dir := newFileStore(t)

	if err := s.Apply(ctx, &Changeset{
		Customers: []models.Customer{{ID: 1, Username: "alice"}, {ID: 2, Username: "bob"}},
	}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if err := s.Flush(ctx, []models.Customer{{ID: 2, Username: "bob"}}, nil); err != nil {
		t.Fatalf("Flush: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, customersFile))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if strings.Contains(string(data), "alice") {
		t.Errorf("flush kept a stale record: %s", data)
	}
	if _, err := os.Stat(filepath.Join(dir, customersFile+".tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind: %v", err)
	}
}

func TestFileStoreCorruptLine(t *testing.T) {
	s, dir := newFileStore(t)
	if err := os.WriteFile(filepath.Join(dir, accountsFile), []byte("{\"id\":1}\nnot json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	_, err := s.Load(context.Background())
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Fatalf("expected error naming line 2, got %v", err)
	}
}

func TestFileStoreClosed(t *testing.T) {
	s, _ := newFileStore(t)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Apply(context.Background(), &Changeset{Customers: []models.Customer{{ID: 1}}}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestBatchCommitRestoresOnFailedRename(t *testing.T) {
	dir := t.TempDir()
	loans := filepath.Join(dir, loansFile)
	customers := filepath.Join(dir, customersFile)
	accounts := filepath.Join(dir, accountsFile)
	if err := os.WriteFile(loans, []byte("old\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	var b batch
	defer b.abort()
	for _, path := range []string{accounts, loans, customers} {
		if err := b.stage(path, []byte("new\n")); err != nil {
			t.Fatalf("stage %s: %v", path, err)
		}
	}
	// A directory in place of accounts.jsonl makes the last rename fail.
	if err := os.MkdirAll(filepath.Join(accounts, "blocker"), 0o700); err != nil {
		t.Fatal(err)
	}

	if err := b.commit(); err == nil {
		t.Fatal("expected commit to fail")
	}
	data, err := os.ReadFile(loans)
	if err != nil || string(data) != "old\n" {
		t.Errorf("loans = %q, %v; want previous contents", data, err)
	}
	if _, err := os.Stat(customers); !os.IsNotExist(err) {
		t.Errorf("customers file should be gone again, stat err = %v", err)
	}
}

func TestBatchCommitRenamesAccountsLast(t *testing.T) {
	dir := t.TempDir()
	var b batch
	for _, name := range []string{accountsFile, customersFile, loansFile, sequencesFile} {
		if err := b.stage(filepath.Join(dir, name), []byte("x\n")); err != nil {
			t.Fatal(err)
		}
	}
	if err := b.commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	want := []string{sequencesFile, loansFile, customersFile, accountsFile}
	for i, f := range b.staged {
		if got := filepath.Base(f.path); got != want[i] {
			t.Errorf("rename %d = %s, want %s", i, got, want[i])
		}
	}
}
