package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

type productRepoFake struct {
	mu       sync.Mutex
	products map[string]*domain.Product
	staleSet []string
	getErr   error
}

func newProductRepoFake(products ...domain.Product) *productRepoFake {
	f := &productRepoFake{products: make(map[string]*domain.Product)}
	for i := range products {
		p := products[i]
		f.products[p.ID] = &p
	}
	return f
}

func (f *productRepoFake) GetByID(_ context.Context, id string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	p, ok := f.products[id]
	if !ok {
		return nil, domain.WrapError(domain.ErrProductNotFound, "get product", errors.New(id))
	}
	copyProduct := *p
	return &copyProduct, nil
}

func (f *productRepoFake) GetBySlug(_ context.Context, slug string) (*domain.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.products {
		if p.Slug == slug {
			copyProduct := *p
			return &copyProduct, nil
		}
	}
	return nil, domain.WrapError(domain.ErrProductNotFound, "get product by slug", errors.New(slug))
}

func (f *productRepoFake) ListFlaggedStale(_ context.Context, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0)
	ids := make([]string, 0, len(f.products))
	for id := range f.products {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if f.products[id].Stale && len(out) < limit {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f *productRepoFake) SetStale(_ context.Context, id string, stale bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.products[id]
	if !ok {
		return domain.WrapError(domain.ErrProductNotFound, "set stale", errors.New(id))
	}
	p.Stale = stale
	if stale {
		f.staleSet = append(f.staleSet, id)
	}
	return nil
}

func (f *productRepoFake) isStale(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.products[id].Stale
}

type stageKey struct {
	productID string
	stage     domain.StageID
}

type stageRepoFake struct {
	mu      sync.Mutex
	records map[stageKey]domain.StageRecord
	writes  int
	listErr error
}

func newStageRepoFake() *stageRepoFake {
	return &stageRepoFake{records: make(map[stageKey]domain.StageRecord)}
}

func (f *stageRepoFake) seed(productID string, stage domain.StageID, status domain.StageStatus, output string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record := domain.StageRecord{ProductID: productID, Stage: stage, Status: status}
	if output != "" {
		record.Output = json.RawMessage(output)
	}
	f.records[stageKey{productID, stage}] = record
}

func (f *stageRepoFake) get(productID string, stage domain.StageID) (domain.StageRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[stageKey{productID, stage}]
	return record, ok
}

func (f *stageRepoFake) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *stageRepoFake) ListByProduct(_ context.Context, productID string) ([]domain.StageRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]domain.StageRecord, 0)
	for key, record := range f.records {
		if key.productID == productID {
			out = append(out, record)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stage < out[j].Stage })
	return out, nil
}

func (f *stageRepoFake) update(productID string, stage domain.StageID, apply func(*domain.StageRecord)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := stageKey{productID, stage}
	record, ok := f.records[key]
	if !ok {
		record = domain.StageRecord{ProductID: productID, Stage: stage}
	}
	apply(&record)
	record.UpdatedAt = time.Now()
	f.records[key] = record
	f.writes++
}

func (f *stageRepoFake) MarkRunning(_ context.Context, productID string, stage domain.StageID) error {
	f.update(productID, stage, func(r *domain.StageRecord) {
		r.Status = domain.StageStatusRunning
		r.Error = nil
	})
	return nil
}

func (f *stageRepoFake) MarkDone(_ context.Context, productID string, stage domain.StageID, output json.RawMessage) error {
	f.update(productID, stage, func(r *domain.StageRecord) {
		r.Status = domain.StageStatusDone
		r.Output = output
		r.Error = nil
	})
	return nil
}

func (f *stageRepoFake) MarkError(_ context.Context, productID string, stage domain.StageID, stageErr domain.StageError) error {
	f.update(productID, stage, func(r *domain.StageRecord) {
		r.Status = domain.StageStatusError
		r.Error = &stageErr
	})
	return nil
}

func (f *stageRepoFake) MarkBlocked(_ context.Context, productID string, stage domain.StageID, stageErr domain.StageError) error {
	f.update(productID, stage, func(r *domain.StageRecord) {
		r.Status = domain.StageStatusBlocked
		r.Error = &stageErr
	})
	return nil
}

type snapshotRepoFake struct {
	mu        sync.Mutex
	snapshots map[string]*domain.CanonicalSnapshot
	stale     []string
	merges    int
}

func newSnapshotRepoFake() *snapshotRepoFake {
	return &snapshotRepoFake{snapshots: make(map[string]*domain.CanonicalSnapshot)}
}

func (f *snapshotRepoFake) Get(_ context.Context, productID string) (*domain.CanonicalSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot, ok := f.snapshots[productID]
	if !ok {
		return nil, nil
	}
	copySnapshot := *snapshot
	copySnapshot.Stages = make(map[string]domain.SnapshotStage, len(snapshot.Stages))
	for k, v := range snapshot.Stages {
		copySnapshot.Stages[k] = v
	}
	return &copySnapshot, nil
}

func (f *snapshotRepoFake) MergeStage(_ context.Context, productID string, stage domain.StageID, entry domain.SnapshotStage, patch domain.SnapshotPatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	snapshot, ok := f.snapshots[productID]
	if !ok {
		snapshot = &domain.CanonicalSnapshot{ProductID: productID, Stages: make(map[string]domain.SnapshotStage)}
		f.snapshots[productID] = snapshot
	}
	snapshot.Stages[stage.Key()] = entry
	if patch.Verified != nil {
		snapshot.Verified = *patch.Verified
	}
	if patch.QualityScore != nil {
		snapshot.QualityScore = *patch.QualityScore
	}
	snapshot.UpdatedAt = entry.CompletedAt
	f.merges++
	return nil
}

// ListStale returns the preset stale ids followed by snapshots updated before
// olderThan.
func (f *snapshotRepoFake) ListStale(_ context.Context, olderThan time.Time, limit int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.stale...)
	ids := make([]string, 0, len(f.snapshots))
	for id := range f.snapshots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if f.snapshots[id].UpdatedAt.Before(olderThan) {
			out = append(out, id)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type validatorFake struct {
	failStages map[domain.StageID]bool
}

func (f *validatorFake) Validate(stage domain.StageID, _ json.RawMessage) error {
	if f != nil && f.failStages[stage] {
		return domain.WrapError(domain.ErrValidationFailed, "validate output", errors.New("schema mismatch"))
	}
	return nil
}

type executorFake struct {
	mu     sync.Mutex
	stage  domain.StageID
	output string
	err    error
	calls  int
	inputs []StageInput
	panics bool
}

func (f *executorFake) Stage() domain.StageID { return f.stage }

func (f *executorFake) Execute(_ context.Context, in StageInput) (json.RawMessage, error) {
	f.mu.Lock()
	f.calls++
	f.inputs = append(f.inputs, in)
	f.mu.Unlock()
	if f.panics {
		panic("executor exploded")
	}
	if f.err != nil {
		return nil, f.err
	}
	return json.RawMessage(f.output), nil
}

func (f *executorFake) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func stageExecutors() map[domain.StageID]*executorFake {
	return map[domain.StageID]*executorFake{
		domain.StageClaims:     {stage: domain.StageClaims, output: `{"claims":[{"key":"weight","label":"Weight","value":"1 kg"}],"count":1}`},
		domain.StageEvidence:   {stage: domain.StageEvidence, output: `{"sources":[],"corroboration":{"claims":[],"source_count":0,"claim_count":0}}`},
		domain.StageVerify:     {stage: domain.StageVerify, output: `{"discrepancies":[],"verified_count":0,"disputed_count":0,"unverified_count":0}`},
		domain.StageAssessment: {stage: domain.StageAssessment, output: `{"truth_score":80,"verdict":"accurate","summary":"ok","quality_score":0.75}`},
	}
}

func executorList(executors map[domain.StageID]*executorFake) []StageExecutor {
	out := make([]StageExecutor, 0, len(executors))
	for _, stage := range domain.AllStages {
		if executor, ok := executors[stage]; ok {
			out = append(out, executor)
		}
	}
	return out
}

type runnerCall struct {
	productID string
	stage     domain.StageID
	force     bool
}

type stageRunnerFake struct {
	mu      sync.Mutex
	calls   []runnerCall
	results map[runnerCall]*domain.StageResult
	errs    map[runnerCall]error
	panics  bool
}

func (f *stageRunnerFake) RunStage(_ context.Context, productID string, stage domain.StageID, forceRedo bool) (*domain.StageResult, error) {
	call := runnerCall{productID: productID, stage: stage, force: forceRedo}
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
	if f.panics {
		panic("runner exploded")
	}
	if err := f.errs[call]; err != nil {
		return nil, err
	}
	if result, ok := f.results[call]; ok {
		return result, nil
	}
	return &domain.StageResult{ProductID: productID, Stage: stage, Status: domain.StageStatusDone, Output: json.RawMessage(`{"ok":true}`)}, nil
}

func (f *stageRunnerFake) recorded() []runnerCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runnerCall(nil), f.calls...)
}

type inferenceFake struct {
	mu        sync.Mutex
	responses []string
	err       error
	prompts   []string
}

func (f *inferenceFake) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	if len(f.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	response := f.responses[0]
	f.responses = f.responses[1:]
	return response, nil
}
