// Package batch provides deterministic content-addressed identity for job
// payloads and batches, plus parameter-grid expansion of batch templates.
//
// Identity rules:
//   - a params hash is the sha256 of the canonical JSON of the payload
//     (sorted keys, normalized scalar types), so logically identical
//     payloads hash the same regardless of key order or source format
//   - a batch id hashes the sorted canonical forms of its member specs,
//     so submission order never affects batch identity
package batch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/quantfold/quantfold/pkg/jobstore"
)

// batchIDPrefix namespaces batch ids next to plain job uuids in logs.
const batchIDPrefix = "qb_"

type specPayload struct {
	JobType string         `json:"job_type"`
	Params  map[string]any `json:"params"`
}

// CanonicalJSON returns the canonical serialized form of a params payload.
//
// Marshaling a map sorts keys at every nesting level; the marshal →
// unmarshal round trip first normalizes scalar types (YAML ints vs JSON
// floats) so the same logical payload canonicalizes identically whatever
// decoder produced it.
func CanonicalJSON(params map[string]any) ([]byte, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshal params: %w", err)
	}

	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, fmt.Errorf("normalize params: %w", err)
	}

	b, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal canonical params: %w", err)
	}
	return b, nil
}

// HashParams computes the canonical content hash of a params payload.
// The hash is stable across repeated computation and key ordering.
func HashParams(params map[string]any) (string, error) {
	b, err := CanonicalJSON(params)
	if err != nil {
		return "", err
	}
	sha := sha256.Sum256(b)
	return hex.EncodeToString(sha[:]), nil
}

// ComputeBatchID derives the content-addressed identity of a set of job
// specs. Each spec is canonicalized, the canonical forms are sorted, and
// the sorted concatenation is hashed — so every permutation of the same
// job list yields the same batch id.
func ComputeBatchID(specs []jobstore.JobSpec) (string, error) {
	if len(specs) == 0 {
		return "", fmt.Errorf("batch must contain at least one job spec")
	}

	canonical := make([]string, 0, len(specs))
	for i, spec := range specs {
		if spec.JobType == "" {
			return "", fmt.Errorf("spec %d: job_type is required", i)
		}

		params, err := CanonicalJSON(spec.Params)
		if err != nil {
			return "", fmt.Errorf("spec %d: %w", i, err)
		}

		var normalized map[string]any
		if len(spec.Params) > 0 {
			if err := json.Unmarshal(params, &normalized); err != nil {
				return "", fmt.Errorf("spec %d: %w", i, err)
			}
		}

		b, err := json.Marshal(specPayload{
			JobType: string(spec.JobType),
			Params:  normalized,
		})
		if err != nil {
			return "", fmt.Errorf("spec %d: marshal payload: %w", i, err)
		}
		canonical = append(canonical, string(b))
	}

	// Sort by serialized form so identity is order-independent.
	sort.Strings(canonical)

	sha := sha256.Sum256([]byte(strings.Join(canonical, "\n")))
	return batchIDPrefix + hex.EncodeToString(sha[:]), nil
}
