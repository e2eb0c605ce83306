package store

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go-microbank/models"
)

// File names, one record kind per file, one JSON record per line.
const (
	customersFile    = "customers.jsonl"
	accountsFile     = "accounts.jsonl"
	loansFile        = "microloans.jsonl"
	requestsFile     = "microloan_requests.jsonl"
	offersFile       = "microloan_offers.jsonl"
	transactionsFile = "transactions.jsonl"
	sequencesFile    = "sequences.json"
)

const maxLineSize = 1 << 20

// FileStore keeps records in a directory of JSON Lines files. Every file a
// changeset touches is written to a temp file first and renamed into place
// only after all of them were written.
type FileStore struct {
	dir    string
	mutex  sync.Mutex
	closed bool
}

// NewFileStore creates dir if needed and returns a store rooted there.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	snap := &Snapshot{}
	var err error
	if snap.Customers, err = readRecords[models.Customer](s.path(customersFile)); err != nil {
		return nil, err
	}
	if snap.Accounts, err = readRecords[models.Account](s.path(accountsFile)); err != nil {
		return nil, err
	}
	if snap.Loans, err = readRecords[models.Microloan](s.path(loansFile)); err != nil {
		return nil, err
	}
	if snap.Requests, err = readRecords[models.MicroloanRequest](s.path(requestsFile)); err != nil {
		return nil, err
	}
	if snap.Offers, err = readRecords[models.MicroloanOffer](s.path(offersFile)); err != nil {
		return nil, err
	}
	if snap.Transactions, err = readRecords[models.Transaction](s.path(transactionsFile)); err != nil {
		return nil, err
	}
	if snap.Sequences, err = s.readSequences(); err != nil {
		return nil, err
	}
	return snap, ctx.Err()
}

func (s *FileStore) Apply(ctx context.Context, cs *Changeset) error {
	if cs == nil || cs.Empty() {
		return nil
	}
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}

	var b batch
	defer b.abort()

	if len(cs.Customers) > 0 {
		customers, err := readRecords[models.Customer](s.path(customersFile))
		if err != nil {
			return err
		}
		if err := stageRecords(&b, s.path(customersFile), upsert(customers, cs.Customers, customerID)); err != nil {
			return err
		}
	}
	if len(cs.Accounts) > 0 || len(cs.DeletedAccounts) > 0 {
		accounts, err := readRecords[models.Account](s.path(accountsFile))
		if err != nil {
			return err
		}
		accounts = without(upsert(accounts, cs.Accounts, accountID), cs.DeletedAccounts, accountID)
		if err := stageRecords(&b, s.path(accountsFile), accounts); err != nil {
			return err
		}
	}
	if len(cs.Requests) > 0 || len(cs.ConsumedRequests) > 0 {
		requests, err := readRecords[models.MicroloanRequest](s.path(requestsFile))
		if err != nil {
			return err
		}
		requests = without(append(requests, cs.Requests...), cs.ConsumedRequests, requestID)
		if err := stageRecords(&b, s.path(requestsFile), requests); err != nil {
			return err
		}
	}
	if len(cs.Offers) > 0 || len(cs.ConsumedOffers) > 0 {
		offers, err := readRecords[models.MicroloanOffer](s.path(offersFile))
		if err != nil {
			return err
		}
		offers = without(append(offers, cs.Offers...), cs.ConsumedOffers, offerID)
		if err := stageRecords(&b, s.path(offersFile), offers); err != nil {
			return err
		}
	}
	if len(cs.Loans) > 0 {
		if err := stageAppend(&b, s.path(loansFile), cs.Loans); err != nil {
			return err
		}
	}
	if len(cs.Transactions) > 0 {
		if err := stageAppend(&b, s.path(transactionsFile), cs.Transactions); err != nil {
			return err
		}
	}
	if len(cs.Sequences) > 0 {
		seqs, err := s.readSequences()
		if err != nil {
			return err
		}
		for name, v := range cs.Sequences {
			if v > seqs[name] {
				seqs[name] = v
			}
		}
		data, err := json.MarshalIndent(seqs, "", "  ")
		if err != nil {
			return fmt.Errorf("encode sequences: %w", err)
		}
		if err := b.stage(s.path(sequencesFile), data); err != nil {
			return err
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return b.commit()
}

func (s *FileStore) Flush(ctx context.Context, customers []models.Customer, accounts []models.Account) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return ErrClosed
	}

	var b batch
	defer b.abort()
	if err := stageRecords(&b, s.path(customersFile), customers); err != nil {
		return err
	}
	if err := stageRecords(&b, s.path(accountsFile), accounts); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.commit()
}

func (s *FileStore) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.closed = true
	return nil
}

func (s *FileStore) readSequences() (map[string]int64, error) {
	seqs := make(map[string]int64)
	data, err := os.ReadFile(s.path(sequencesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return seqs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read sequences: %w", err)
	}
	if err := json.Unmarshal(data, &seqs); err != nil {
		return nil, fmt.Errorf("decode sequences: %w", err)
	}
	return seqs, nil
}

func readRecords[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var records []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var rec T
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("%s line %d: %w", filepath.Base(path), line, err)
		}
		records = append(records, rec)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return records, nil
}

func encodeRecords[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// commitOrder ranks files so that balances land after the records that
// explain them. Lower ranks are renamed first.
var commitOrder = map[string]int{
	sequencesFile:    0,
	loansFile:        1,
	requestsFile:     1,
	offersFile:       1,
	transactionsFile: 1,
	customersFile:    2,
	accountsFile:     3,
}

// batch collects staged temp files until commit renames them.
type batch struct {
	staged []stagedFile
	done   bool
}

type stagedFile struct {
	path    string
	tmp     string
	prev    []byte
	existed bool
}

func (b *batch) stage(path string, data []byte) error {
	prev, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	existed := err == nil
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("stage %s: %w", filepath.Base(path), err)
	}
	b.staged = append(b.staged, stagedFile{path: path, tmp: tmp, prev: prev, existed: existed})
	return nil
}

func stageRecords[T any](b *batch, path string, records []T) error {
	data, err := encodeRecords(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return b.stage(path, data)
}

// stageAppend copies the existing file and adds records to the copy.
func stageAppend[T any](b *batch, path string, records []T) error {
	existing, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	if len(existing) > 0 && existing[len(existing)-1] != '\n' {
		existing = append(existing, '\n')
	}
	added, err := encodeRecords(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	return b.stage(path, append(existing, added...))
}

// commit renames every staged file into place. When a rename fails the
// files already renamed are put back to their previous contents.
func (b *batch) commit() error {
	sort.SliceStable(b.staged, func(i, j int) bool {
		return commitOrder[filepath.Base(b.staged[i].path)] < commitOrder[filepath.Base(b.staged[j].path)]
	})
	for i, f := range b.staged {
		if err := os.Rename(f.tmp, f.path); err != nil {
			b.restore(b.staged[:i])
			b.staged = b.staged[i:]
			return fmt.Errorf("commit %s: %w", filepath.Base(f.path), err)
		}
	}
	b.done = true
	return nil
}

func (b *batch) restore(committed []stagedFile) {
	for _, f := range committed {
		var err error
		if f.existed {
			err = os.WriteFile(f.path, f.prev, 0o600)
		} else {
			err = os.Remove(f.path)
		}
		if err != nil {
			log.Printf("store: restore %s: %v", filepath.Base(f.path), err)
		}
	}
}

func (b *batch) abort() {
	if b.done {
		return
	}
	for _, f := range b.staged {
		os.Remove(f.tmp)
	}
}
