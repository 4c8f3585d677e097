package usecase

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"veriledger/internal/domain"
	"veriledger/internal/infra/alert"
	"veriledger/internal/infra/anchor"
	"veriledger/internal/infra/prover"
	"veriledger/internal/infra/queue"
)

// In-memory repository stubs. Each preserves insertion order where the
// production repository orders by creation time.

type memEvents struct {
	mu     sync.Mutex
	events []domain.Event
}

func (m *memEvents) Create(_ context.Context, event domain.Event) (domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return event, nil
}

func (m *memEvents) GetByID(_ context.Context, id string) (*domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			ev := m.events[i]
			return &ev, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memEvents) GetByIDs(ctx context.Context, ids []string) ([]domain.Event, error) {
	out := make([]domain.Event, 0, len(ids))
	for _, id := range ids {
		ev, err := m.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("event %s referenced but not found", id)
		}
		out = append(out, *ev)
	}
	return out, nil
}

func (m *memEvents) List(_ context.Context, filter domain.EventFilter) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if filter.Type != "" && ev.Type != filter.Type {
			continue
		}
		if filter.Signer != "" && ev.Signer != filter.Signer {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

func (m *memEvents) ListUnblocked(_ context.Context, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.BlockID == nil {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memEvents) ListUnbatched(_ context.Context, limit int) ([]domain.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Event
	for _, ev := range m.events {
		if ev.ProofStatus == domain.ProofStatusNone {
			out = append(out, ev)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memEvents) SetProofStatus(_ context.Context, ids []string, status domain.ProofStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range m.events {
		if _, ok := wanted[m.events[i].ID]; ok {
			m.events[i].ProofStatus = status
		}
	}
	return nil
}

func (m *memEvents) setBlock(ids []string, blockID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}
	for i := range m.events {
		if _, ok := wanted[m.events[i].ID]; ok {
			id := blockID
			m.events[i].BlockID = &id
		}
	}
}

type memBlocks struct {
	mu     sync.Mutex
	blocks []domain.Block
	events *memEvents
}

func (m *memBlocks) CreateWithEvents(_ context.Context, block domain.Block) (domain.Block, error) {
	m.mu.Lock()
	m.blocks = append(m.blocks, block)
	m.mu.Unlock()
	if m.events != nil {
		m.events.setBlock(block.EventIDs, block.ID)
	}
	return block, nil
}

func (m *memBlocks) Latest(_ context.Context) (*domain.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.blocks) == 0 {
		return nil, nil
	}
	b := m.blocks[len(m.blocks)-1]
	return &b, nil
}

func (m *memBlocks) Page(_ context.Context, fromIndex int64, limit int) ([]domain.Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Block
	for _, b := range m.blocks {
		if b.Index >= fromIndex {
			out = append(out, b)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memBlocks) Count(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.blocks)), nil
}

type memBatches struct {
	mu      sync.Mutex
	batches []domain.Batch
}

func (m *memBatches) Create(_ context.Context, batch domain.Batch) (domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, batch)
	return batch, nil
}

func (m *memBatches) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		if m.batches[i].ID == id {
			b := m.batches[i]
			return &b, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memBatches) FindByEventID(_ context.Context, eventID string) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		for _, id := range m.batches[i].EventIDs {
			if id == eventID {
				b := m.batches[i]
				return &b, nil
			}
		}
	}
	return nil, nil
}

func (m *memBatches) LatestAnchored(_ context.Context) (*domain.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.batches) - 1; i >= 0; i-- {
		if m.batches[i].Status == domain.BatchStatusAnchored {
			b := m.batches[i]
			return &b, nil
		}
	}
	return nil, nil
}

func (m *memBatches) ListPending(_ context.Context) ([]domain.Batch, error) {
	return m.listByStatus(domain.BatchStatusPending), nil
}

func (m *memBatches) ListProving(_ context.Context) ([]domain.Batch, error) {
	return m.listByStatus(domain.BatchStatusProving), nil
}

func (m *memBatches) listByStatus(status domain.BatchStatus) []domain.Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Batch
	for i := range m.batches {
		if m.batches[i].Status == status {
			out = append(out, m.batches[i])
		}
	}
	return out
}

func (m *memBatches) SetStatus(_ context.Context, id string, status domain.BatchStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		if m.batches[i].ID == id {
			m.batches[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memBatches) SetProving(_ context.Context, id string, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		if m.batches[i].ID == id {
			m.batches[i].Status = domain.BatchStatusProving
			m.batches[i].ProofJobID = &jobID
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memBatches) SetAnchored(_ context.Context, id string, anchorTx string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.batches {
		if m.batches[i].ID == id {
			m.batches[i].Status = domain.BatchStatusAnchored
			if anchorTx != "" {
				m.batches[i].AnchorTx = &anchorTx
			}
			return nil
		}
	}
	return domain.ErrNotFound
}

type memJobs struct {
	mu   sync.Mutex
	jobs []domain.ProverJob
}

func (m *memJobs) Create(_ context.Context, job domain.ProverJob) (domain.ProverJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
	return job, nil
}

func (m *memJobs) GetByID(_ context.Context, id string) (*domain.ProverJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			j := m.jobs[i]
			return &j, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memJobs) FindActive(_ context.Context, targetID, circuit string) (*domain.ProverJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		j := m.jobs[i]
		if j.TargetID == targetID && j.Circuit == circuit &&
			j.Status != domain.JobStatusFailed && j.Status != domain.JobStatusCancelled {
			return &j, nil
		}
	}
	return nil, nil
}

func (m *memJobs) ListPending(_ context.Context) ([]domain.ProverJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ProverJob
	for _, j := range m.jobs {
		if j.Status == domain.JobStatusPending {
			out = append(out, j)
		}
	}
	return out, nil
}

func (m *memJobs) MarkVerified(_ context.Context, id string, proofRef string) error {
	return m.update(id, func(j *domain.ProverJob) {
		j.Status = domain.JobStatusVerified
		j.ProofRef = proofRef
	})
}

func (m *memJobs) MarkFailed(_ context.Context, id string, reason string) error {
	return m.update(id, func(j *domain.ProverJob) {
		j.Status = domain.JobStatusFailed
		j.LastError = reason
	})
}

func (m *memJobs) ResetForRetry(_ context.Context, id string) (*domain.ProverJob, error) {
	err := m.update(id, func(j *domain.ProverJob) {
		j.Status = domain.JobStatusPending
		j.RetryCount++
	})
	if err != nil {
		return nil, err
	}
	return m.GetByID(context.Background(), id)
}

func (m *memJobs) update(id string, fn func(*domain.ProverJob)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.jobs {
		if m.jobs[i].ID == id {
			fn(&m.jobs[i])
			return nil
		}
	}
	return domain.ErrNotFound
}

type memCredentials struct {
	mu        sync.Mutex
	issuances []domain.CredentialIssuance
	verified  []string
}

func (m *memCredentials) Create(_ context.Context, issuance domain.CredentialIssuance) (domain.CredentialIssuance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.issuances = append(m.issuances, issuance)
	return issuance, nil
}

func (m *memCredentials) GetByID(_ context.Context, id string) (*domain.CredentialIssuance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issuances {
		if m.issuances[i].ID == id {
			iss := m.issuances[i]
			return &iss, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *memCredentials) ListActive(_ context.Context) ([]domain.CredentialIssuance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.CredentialIssuance
	for _, iss := range m.issuances {
		if iss.Status == domain.CredentialStatusActive {
			out = append(out, iss)
		}
	}
	return out, nil
}

func (m *memCredentials) SetStatus(_ context.Context, id string, status domain.CredentialStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.issuances {
		if m.issuances[i].ID == id {
			m.issuances[i].Status = status
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *memCredentials) MarkVerifiedByEventIDs(_ context.Context, eventIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.verified = append(m.verified, eventIDs...)
	wanted := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		wanted[id] = struct{}{}
	}
	for i := range m.issuances {
		if m.issuances[i].EventID == nil {
			continue
		}
		if _, ok := wanted[*m.issuances[i].EventID]; ok {
			m.issuances[i].ProofStatus = domain.ProofStatusVerified
		}
	}
	return nil
}

// memQueue implements both the coordinator's JobQueue and the worker's
// WorkerQueue over a plain slice.
type memQueue struct {
	mu      sync.Mutex
	entries []queue.Entry
	dead    []queue.Entry
	nextID  int
	addErr  error
}

func (m *memQueue) Add(_ context.Context, payload []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.addErr != nil {
		return "", m.addErr
	}
	m.nextID++
	id := strconv.Itoa(m.nextID)
	m.entries = append(m.entries, queue.Entry{ID: id, Payload: payload})
	return id, nil
}

func (m *memQueue) Process(ctx context.Context, _ string, handler queue.Handler) (int, error) {
	m.mu.Lock()
	pending := m.entries
	m.entries = nil
	m.mu.Unlock()

	handled := 0
	for _, entry := range pending {
		if err := handler(ctx, entry); err != nil {
			// Unacked: put it back for redelivery.
			m.mu.Lock()
			m.entries = append(m.entries, entry)
			m.mu.Unlock()
			return handled, err
		}
		handled++
	}
	return handled, nil
}

func (m *memQueue) DeadLetter(_ context.Context, entry queue.Entry, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dead = append(m.dead, entry)
	return nil
}

func (m *memQueue) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

type stubVerifier struct {
	err error
}

func (v stubVerifier) Verify(string, map[string]any, string, string) error {
	return v.err
}

type stubAnchor struct {
	enabled     bool
	err         error
	submissions []anchor.Submission
}

func (a *stubAnchor) IsEnabled() bool { return a.enabled }

func (a *stubAnchor) Submit(_ context.Context, sub anchor.Submission) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	a.submissions = append(a.submissions, sub)
	return fmt.Sprintf("0xtx%d", len(a.submissions)), nil
}

type stubStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	getErr  error
	putErr  error
}

func newStubStore() *stubStore {
	return &stubStore{objects: make(map[string][]byte)}
}

func (s *stubStore) Put(_ context.Context, key string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return "", s.putErr
	}
	s.objects[key] = data
	return key, nil
}

func (s *stubStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s not found", key)
	}
	return data, nil
}

type stubNotifier struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (n *stubNotifier) Notify(_ context.Context, a alert.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, a)
}

type stubProver struct {
	err      error
	circuits []string
}

func (p *stubProver) Prove(_ context.Context, circuit string, _ map[string]any) (prover.Result, error) {
	if p.err != nil {
		return prover.Result{}, p.err
	}
	p.circuits = append(p.circuits, circuit)
	return prover.Result{Proof: []byte(`{"pi_a":[]}`), PublicSignals: []byte(`[]`)}, nil
}
