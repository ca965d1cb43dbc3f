package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
	"github.com/kirillkom/product-truth-audit/internal/core/ports"
)

type EvidenceLimits struct {
	MaxSources       int
	FetchConcurrency int
}

// EvidenceDiscoveryExecutor asks the inference service for candidate sources,
// fetches them, extracts claim fragments and corroborates them.
type EvidenceDiscoveryExecutor struct {
	inference ports.InferenceClient
	fetcher   ports.SourceFetcher
	extractor ports.FragmentExtractor
	limits    EvidenceLimits
}

func NewEvidenceDiscoveryExecutor(
	inference ports.InferenceClient,
	fetcher ports.SourceFetcher,
	extractor ports.FragmentExtractor,
	limits EvidenceLimits,
) *EvidenceDiscoveryExecutor {
	if limits.MaxSources <= 0 {
		limits.MaxSources = 8
	}
	if limits.FetchConcurrency <= 0 {
		limits.FetchConcurrency = 3
	}
	return &EvidenceDiscoveryExecutor{
		inference: inference,
		fetcher:   fetcher,
		extractor: extractor,
		limits:    limits,
	}
}

func (e *EvidenceDiscoveryExecutor) Stage() domain.StageID { return domain.StageEvidence }

func (e *EvidenceDiscoveryExecutor) Execute(ctx context.Context, in StageInput) (json.RawMessage, error) {
	candidates, err := e.discover(ctx, in.Product)
	if err != nil {
		return nil, err
	}

	reports, fragments, err := e.gather(ctx, candidates, specTerms(in.Product.Specs))
	if err != nil {
		return nil, err
	}

	return marshalOutput("evidence discovery", domain.EvidenceOutput{
		Sources:       reports,
		Corroboration: Corroborate(fragments),
	})
}

func (e *EvidenceDiscoveryExecutor) discover(ctx context.Context, product *domain.Product) ([]domain.SourceCandidate, error) {
	raw, err := e.inference.Generate(ctx, buildDiscoveryPrompt(product, e.limits.MaxSources))
	if err != nil {
		return nil, fmt.Errorf("source discovery: %w", err)
	}

	var response struct {
		Sources []domain.SourceCandidate `json:"sources"`
	}
	if err := decodeStrictJSON("decode source discovery", raw, &response); err != nil {
		return nil, err
	}

	candidates := normalizeCandidates(response.Sources, e.limits.MaxSources)
	if len(candidates) == 0 {
		return nil, domain.WrapError(domain.ErrValidationFailed, "source discovery", errors.New("no usable http(s) sources returned"))
	}
	return candidates, nil
}

func (e *EvidenceDiscoveryExecutor) gather(
	ctx context.Context,
	candidates []domain.SourceCandidate,
	terms []string,
) ([]domain.SourceReport, []domain.ClaimFragment, error) {
	reports := make([]domain.SourceReport, len(candidates))
	perSource := make([][]domain.ClaimFragment, len(candidates))

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(e.limits.FetchConcurrency)
	for i, candidate := range candidates {
		group.Go(func() error {
			reports[i], perSource[i] = e.collect(groupCtx, candidate, terms)
			return nil
		})
	}
	_ = group.Wait()

	fetched := 0
	fragments := make([]domain.ClaimFragment, 0)
	for i := range reports {
		if reports[i].Status == domain.SourceStatusFetched {
			fetched++
		}
		fragments = append(fragments, perSource[i]...)
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("gather evidence: %w", err)
	}
	if fetched == 0 {
		return nil, nil, domain.WrapError(domain.ErrExecutorFailure, "gather evidence",
			fmt.Errorf("none of %d sources could be fetched", len(candidates)))
	}
	return reports, fragments, nil
}

func (e *EvidenceDiscoveryExecutor) collect(
	ctx context.Context,
	candidate domain.SourceCandidate,
	terms []string,
) (domain.SourceReport, []domain.ClaimFragment) {
	report := domain.SourceReport{URL: candidate.URL, Title: candidate.Title}

	page, err := e.fetcher.Fetch(ctx, candidate.URL)
	if err != nil {
		report.Status = domain.SourceStatusFailed
		if domain.IsKind(err, domain.ErrInvalidInput) {
			report.Status = domain.SourceStatusSkipped
		}
		report.Error = err.Error()
		return report, nil
	}

	fragments, err := e.extractor.Extract(page, terms)
	if err != nil {
		report.Status = domain.SourceStatusFailed
		report.Error = err.Error()
		return report, nil
	}

	report.Status = domain.SourceStatusFetched
	report.Fragments = len(fragments)
	return report, fragments
}

func normalizeCandidates(in []domain.SourceCandidate, limit int) []domain.SourceCandidate {
	out := make([]domain.SourceCandidate, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, candidate := range in {
		raw := strings.TrimSpace(candidate.URL)
		parsed, err := url.Parse(raw)
		if err != nil || parsed.Host == "" {
			continue
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			continue
		}
		parsed.Fragment = ""
		normalized := parsed.String()
		if _, dup := seen[normalized]; dup {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, domain.SourceCandidate{URL: normalized, Title: strings.TrimSpace(candidate.Title)})
		if len(out) >= limit {
			break
		}
	}
	return out
}

// specTerms returns the lower-cased labels and values an evidence sentence
// must mention to be kept.
func specTerms(specs domain.Specs) []string {
	terms := make([]string, 0, len(specs)*2)
	seen := make(map[string]struct{}, len(specs)*2)
	add := func(term string) {
		term = strings.ToLower(strings.TrimSpace(term))
		if len(term) < 3 {
			return
		}
		if _, ok := seen[term]; ok {
			return
		}
		seen[term] = struct{}{}
		terms = append(terms, term)
	}
	for _, entry := range specs {
		add(entry.Label)
		add(entry.Value)
	}
	return terms
}
