package analyzer

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// RepairStats tracks what the lenient decoder had to do to a body
type RepairStats struct {
	OriginalBytes int      `json:"original_bytes"`
	RepairedBytes int      `json:"repaired_bytes"`
	Strategies    []string `json:"strategies"`
	WasRepaired   bool     `json:"was_repaired"`
}

var (
	trailingCommaObject = regexp.MustCompile(`,\s*}`)
	trailingCommaArray  = regexp.MustCompile(`,\s*]`)
)

// repairJSON makes a best effort at turning a nearly-JSON analyzer body into
// valid JSON. It is only used when lenient decoding is switched on.
// Strategies, in order:
// 1. Strip markdown code fences
// 2. Remove trailing commas
// 3. jsonrepair library as fallback
func repairJSON(raw []byte) ([]byte, RepairStats, error) {
	stats := RepairStats{OriginalBytes: len(raw)}
	if json.Valid(raw) {
		stats.RepairedBytes = len(raw)
		return raw, stats, nil
	}

	stats.WasRepaired = true
	repaired := strings.TrimSpace(string(raw))

	if strings.HasPrefix(repaired, "```") {
		repaired = strings.TrimPrefix(repaired, "```json")
		repaired = strings.TrimPrefix(repaired, "```")
		repaired = strings.TrimSuffix(strings.TrimSpace(repaired), "```")
		stats.Strategies = append(stats.Strategies, "code_fence")
	}

	if strings.Contains(repaired, ",") {
		original := repaired
		repaired = trailingCommaObject.ReplaceAllString(repaired, "}")
		repaired = trailingCommaArray.ReplaceAllString(repaired, "]")
		if repaired != original {
			stats.Strategies = append(stats.Strategies, "trailing_commas")
		}
	}

	if !json.Valid([]byte(repaired)) {
		libraryRepaired, err := jsonrepair.JSONRepair(repaired)
		if err != nil {
			stats.RepairedBytes = len(repaired)
			return nil, stats, fmt.Errorf("JSON repair failed after %d strategies: %w", len(stats.Strategies), err)
		}
		repaired = libraryRepaired
		stats.Strategies = append(stats.Strategies, "jsonrepair_library")
	}

	stats.RepairedBytes = len(repaired)
	if !json.Valid([]byte(repaired)) {
		return nil, stats, fmt.Errorf("JSON repair failed after %d strategies", len(stats.Strategies))
	}
	return []byte(repaired), stats, nil
}
