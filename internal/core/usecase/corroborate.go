package usecase

import (
	"regexp"
	"sort"
	"strings"

	"github.com/kirillkom/product-truth-audit/internal/core/domain"
)

const (
	claimKeyMaxRunes   = 160
	maxCorroborated    = 25
	minCorroboration   = 2
	maxSamplesPerClaim = 2
)

var (
	whitespaceRun = regexp.MustCompile(`\s+`)
	claimKeyStrip = regexp.MustCompile(`[^\w %°\-./]`)
)

// CanonicalClaimKey is the grouping key for near-duplicate claim text.
func CanonicalClaimKey(text string) string {
	key := strings.ToLower(text)
	key = whitespaceRun.ReplaceAllString(key, " ")
	key = claimKeyStrip.ReplaceAllString(key, "")
	key = strings.TrimSpace(key)

	runes := []rune(key)
	if len(runes) > claimKeyMaxRunes {
		key = strings.TrimSpace(string(runes[:claimKeyMaxRunes]))
	}
	return key
}

type claimGroup struct {
	count   int
	sources map[string]struct{}
	samples map[string]struct{}
}

// Corroborate groups fragments by canonical key and keeps only claims seen in
// at least two fragments. The result does not depend on input order.
func Corroborate(fragments []domain.ClaimFragment) domain.Corroboration {
	groups := make(map[string]*claimGroup)
	sources := make(map[string]struct{})

	for _, fragment := range fragments {
		text := strings.TrimSpace(fragment.Text)
		sourceURL := strings.TrimSpace(fragment.SourceURL)
		if text == "" || sourceURL == "" {
			continue
		}
		sources[sourceURL] = struct{}{}

		key := CanonicalClaimKey(text)
		if key == "" {
			continue
		}
		group, ok := groups[key]
		if !ok {
			group = &claimGroup{
				sources: make(map[string]struct{}),
				samples: make(map[string]struct{}),
			}
			groups[key] = group
		}
		group.count++
		group.sources[sourceURL] = struct{}{}
		group.samples[text] = struct{}{}
	}

	claims := make([]domain.CorroboratedClaim, 0, len(groups))
	for key, group := range groups {
		if group.count < minCorroboration {
			continue
		}
		claims = append(claims, domain.CorroboratedClaim{
			Key:     key,
			Count:   group.count,
			Sources: sortedKeys(group.sources, 0),
			Samples: sortedKeys(group.samples, maxSamplesPerClaim),
		})
	}

	sort.SliceStable(claims, func(i, j int) bool {
		if claims[i].Count != claims[j].Count {
			return claims[i].Count > claims[j].Count
		}
		return claims[i].Key < claims[j].Key
	})
	if len(claims) > maxCorroborated {
		claims = claims[:maxCorroborated]
	}

	return domain.Corroboration{
		Claims:      claims,
		SourceCount: len(sources),
		ClaimCount:  len(claims),
	}
}

func sortedKeys(set map[string]struct{}, limit int) []string {
	out := make([]string, 0, len(set))
	for key := range set {
		out = append(out, key)
	}
	sort.Strings(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
