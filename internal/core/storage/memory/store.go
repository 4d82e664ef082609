package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	v1 "github.com/cardwatch-lab/cardwatch/internal/api/v1"
	"github.com/cardwatch-lab/cardwatch/internal/core/aggregate"
	"github.com/cardwatch-lab/cardwatch/internal/core/storage"
)

// AggregateStore is an in-memory storage.AggregateStore. Used by tests and
// by local development runs that don't want a database.
type AggregateStore struct {
	mu   sync.Mutex
	docs map[aggregate.Key]*aggregate.Aggregate

	// Optional failure injection, keyed by document path.
	FailGet    map[string]error
	FailCreate map[string]error
	FailUpdate map[string]error
}

func NewAggregateStore() *AggregateStore {
	return &AggregateStore{
		docs:       make(map[aggregate.Key]*aggregate.Aggregate),
		FailGet:    make(map[string]error),
		FailCreate: make(map[string]error),
		FailUpdate: make(map[string]error),
	}
}

func (s *AggregateStore) Get(ctx context.Context, key aggregate.Key) (*aggregate.Aggregate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailGet[key.DocPath()]; err != nil {
		return nil, err
	}

	doc, ok := s.docs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copied := cloneAggregate(doc)
	return copied, nil
}

func (s *AggregateStore) Create(ctx context.Context, agg *aggregate.Aggregate) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailCreate[agg.Key.DocPath()]; err != nil {
		return "", err
	}

	if _, exists := s.docs[agg.Key]; exists {
		return "", storage.ErrDuplicate
	}

	stored := cloneAggregate(agg)
	stored.Version = 1
	s.docs[agg.Key] = stored
	agg.Version = 1
	return agg.Key.DocPath(), nil
}

func (s *AggregateStore) Update(ctx context.Context, key aggregate.Key, patch aggregate.Patch, expectedVersion int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.FailUpdate[key.DocPath()]; err != nil {
		return "", err
	}

	doc, ok := s.docs[key]
	if !ok {
		return "", storage.ErrNotFound
	}
	if doc.Version != expectedVersion {
		return "", storage.ErrVersionConflict
	}

	if patch.TotalAmount != nil {
		doc.TotalAmount = *patch.TotalAmount
	}
	if patch.TotalCount != nil {
		doc.TotalCount = *patch.TotalCount
	}
	if patch.DocumentIDs != nil {
		doc.DocumentIDs = append([]string{}, patch.DocumentIDs...)
	}
	doc.LastUpdated = patch.LastUpdated
	doc.LastUpdatedBy = patch.LastUpdatedBy
	doc.Version++
	return key.DocPath(), nil
}

func (s *AggregateStore) MarkNotified(ctx context.Context, key aggregate.Key, flags aggregate.Flags, updatedBy string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		return storage.ErrNotFound
	}

	doc.NotifiedLevel1 = doc.NotifiedLevel1 || flags.Level1
	doc.NotifiedLevel2 = doc.NotifiedLevel2 || flags.Level2
	doc.NotifiedLevel3 = doc.NotifiedLevel3 || flags.Level3
	doc.SummarySent = doc.SummarySent || flags.Summary
	doc.LastUpdatedBy = updatedBy
	return nil
}

// Snapshot returns a copy of the stored aggregate, or nil.
func (s *AggregateStore) Snapshot(key aggregate.Key) *aggregate.Aggregate {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[key]
	if !ok {
		return nil
	}
	return cloneAggregate(doc)
}

// Len reports the number of stored aggregates.
func (s *AggregateStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

// Seed stores an aggregate directly, bypassing Create semantics.
func (s *AggregateStore) Seed(agg *aggregate.Aggregate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if agg.Version == 0 {
		agg.Version = 1
	}
	s.docs[agg.Key] = cloneAggregate(agg)
}

func cloneAggregate(src *aggregate.Aggregate) *aggregate.Aggregate {
	copied := *src
	copied.DocumentIDs = append([]string{}, src.DocumentIDs...)
	return &copied
}

// TransactionStore is an in-memory storage.TransactionStore.
type TransactionStore struct {
	mu      sync.Mutex
	txs     map[string]*v1.Transaction
	nextSeq int64

	FailQuery error
}

func NewTransactionStore() *TransactionStore {
	return &TransactionStore{txs: make(map[string]*v1.Transaction)}
}

func (s *TransactionStore) SaveTransaction(ctx context.Context, tx *v1.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.txs[tx.ID]; exists {
		return storage.ErrDuplicate
	}

	s.nextSeq++
	tx.IngestSeq = s.nextSeq
	copied := *tx
	s.txs[tx.ID] = &copied
	return nil
}

// Len reports the number of stored transactions.
func (s *TransactionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.txs)
}

func (s *TransactionStore) QueryByDateRange(ctx context.Context, start, end time.Time) ([]*v1.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailQuery != nil {
		return nil, s.FailQuery
	}

	var result []*v1.Transaction
	for _, tx := range s.txs {
		if tx.OccurredAt.Before(start) || tx.OccurredAt.After(end) {
			continue
		}
		copied := *tx
		result = append(result, &copied)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].IngestSeq < result[j].IngestSeq
		}
		return result[i].OccurredAt.Before(result[j].OccurredAt)
	})
	return result, nil
}
