package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"workflow-suite/core/pkg/models"
)

// MemoryRepository is an in-memory implementation of Repository used for
// local development and tests. Transactions are serialized; a transaction
// that returns an error restores the state captured when it began.
type MemoryRepository struct {
	txMu sync.Mutex

	mu        sync.RWMutex
	seq       int64
	instances map[string]*models.WorkflowInstance
	history   map[string][]models.HistoryEntry
	requests  map[string]*models.ApprovalRequest
	decisions map[string][]models.ApprovalDecision
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		instances: make(map[string]*models.WorkflowInstance),
		history:   make(map[string][]models.HistoryEntry),
		requests:  make(map[string]*models.ApprovalRequest),
		decisions: make(map[string][]models.ApprovalDecision),
	}
}

type memoryTxKey struct{}

type memorySnapshot struct {
	seq       int64
	instances map[string]*models.WorkflowInstance
	history   map[string][]models.HistoryEntry
	requests  map[string]*models.ApprovalRequest
	decisions map[string][]models.ApprovalDecision
}

// WithinTx runs fn while holding the repository's transaction lock.
func (s *MemoryRepository) WithinTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if ctx.Value(memoryTxKey{}) != nil {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(context.WithValue(ctx, memoryTxKey{}, true))
}

func (s *MemoryRepository) snapshot() memorySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := memorySnapshot{
		seq:       s.seq,
		instances: make(map[string]*models.WorkflowInstance, len(s.instances)),
		history:   make(map[string][]models.HistoryEntry, len(s.history)),
		requests:  make(map[string]*models.ApprovalRequest, len(s.requests)),
		decisions: make(map[string][]models.ApprovalDecision, len(s.decisions)),
	}
	for id, instance := range s.instances {
		snap.instances[id] = instance.Clone()
	}
	// ledgers are append-only so truncating to the captured length is enough
	for id, entries := range s.history {
		snap.history[id] = entries[:len(entries):len(entries)]
	}
	for id, request := range s.requests {
		snap.requests[id] = request.Clone()
	}
	for id, decisions := range s.decisions {
		snap.decisions[id] = decisions[:len(decisions):len(decisions)]
	}
	return snap
}

func (s *MemoryRepository) restore(snap memorySnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq = snap.seq
	s.instances = snap.instances
	s.history = snap.history
	s.requests = snap.requests
	s.decisions = snap.decisions
}

// Ping always succeeds.
func (s *MemoryRepository) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryRepository) Close() {}

// CreateInstance inserts a new instance.
func (s *MemoryRepository) CreateInstance(_ context.Context, instance *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[instance.ID] = instance.Clone()
	return nil
}

// GetInstance retrieves an instance by its ID.
func (s *MemoryRepository) GetInstance(_ context.Context, id string) (*models.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	instance, ok := s.instances[id]
	if !ok {
		return nil, ErrNotFound
	}
	return instance.Clone(), nil
}

// LockInstance is GetInstance; the transaction lock already serializes writers.
func (s *MemoryRepository) LockInstance(ctx context.Context, id string) (*models.WorkflowInstance, error) {
	return s.GetInstance(ctx, id)
}

// UpdateInstance overwrites the mutable fields of an instance.
func (s *MemoryRepository) UpdateInstance(_ context.Context, instance *models.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.instances[instance.ID]
	if !ok {
		return ErrNotFound
	}
	updated := existing.Clone()
	if instance.CurrentStepID != nil {
		step := *instance.CurrentStepID
		updated.CurrentStepID = &step
	} else {
		updated.CurrentStepID = nil
	}
	updated.Status = instance.Status
	updated.Context = models.CloneMap(instance.Context)
	updated.CompletedAt = instance.CompletedAt
	updated.UpdatedAt = instance.UpdatedAt
	s.instances[instance.ID] = updated
	return nil
}

// AppendHistory appends an entry to the history ledger.
func (s *MemoryRepository) AppendHistory(_ context.Context, entry *models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.instances[entry.InstanceID]; !ok {
		return ErrNotFound
	}
	s.seq++
	entry.Seq = s.seq
	stored := *entry
	stored.Payload = models.CloneMap(entry.Payload)
	s.history[entry.InstanceID] = append(s.history[entry.InstanceID], stored)
	return nil
}

// ListHistory returns the history of an instance, newest first.
func (s *MemoryRepository) ListHistory(_ context.Context, instanceID string) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.history[instanceID]
	out := make([]models.HistoryEntry, len(entries))
	for i, entry := range entries {
		out[i] = entry
		out[i].Payload = models.CloneMap(entry.Payload)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[i].Seq, out[j].CreatedAt, out[j].Seq)
	})
	return out, nil
}

// CreateRequest inserts a request together with its approvers.
func (s *MemoryRepository) CreateRequest(_ context.Context, request *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := request.Clone()
	sort.SliceStable(stored.Approvers, func(i, j int) bool {
		return stored.Approvers[i].Order < stored.Approvers[j].Order
	})
	s.requests[request.ID] = stored
	return nil
}

// GetRequest retrieves a request and its approvers ordered by position.
func (s *MemoryRepository) GetRequest(_ context.Context, id string) (*models.ApprovalRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	request, ok := s.requests[id]
	if !ok {
		return nil, ErrNotFound
	}
	return request.Clone(), nil
}

// LockRequest is GetRequest; the transaction lock already serializes writers.
func (s *MemoryRepository) LockRequest(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	return s.GetRequest(ctx, id)
}

// UpdateRequestStatus sets the aggregate status of a request.
func (s *MemoryRepository) UpdateRequestStatus(_ context.Context, id string, status models.RequestStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[id]
	if !ok {
		return ErrNotFound
	}
	updated := request.Clone()
	updated.Status = status
	updated.UpdatedAt = at
	s.requests[id] = updated
	return nil
}

// UpdateApproverStatus records the vote state of one approver.
func (s *MemoryRepository) UpdateApproverStatus(_ context.Context, requestID, userID string, status models.ApproverStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	request, ok := s.requests[requestID]
	if !ok {
		return ErrNotFound
	}
	updated := request.Clone()
	approver, ok := updated.Approver(userID)
	if !ok {
		return ErrNotFound
	}
	approver.Status = status
	decidedAt := at
	approver.DecidedAt = &decidedAt
	s.requests[requestID] = updated
	return nil
}

// AppendDecision appends a decision to the ledger.
func (s *MemoryRepository) AppendDecision(_ context.Context, decision *models.ApprovalDecision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.requests[decision.RequestID]; !ok {
		return ErrNotFound
	}
	s.seq++
	decision.Seq = s.seq
	s.decisions[decision.RequestID] = append(s.decisions[decision.RequestID], *decision)
	return nil
}

// ListDecisions returns the decisions of a request, newest first.
func (s *MemoryRepository) ListDecisions(_ context.Context, requestID string) ([]models.ApprovalDecision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.ApprovalDecision{}, s.decisions[requestID]...)
	sort.SliceStable(out, func(i, j int) bool {
		return newerFirst(out[i].CreatedAt, out[i].Seq, out[j].CreatedAt, out[j].Seq)
	})
	return out, nil
}

func newerFirst(at1 time.Time, seq1 int64, at2 time.Time, seq2 int64) bool {
	if !at1.Equal(at2) {
		return at1.After(at2)
	}
	return seq1 > seq2
}
