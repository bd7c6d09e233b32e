// Package score combines scored posting lists. Within one index batch
// documents are matched by DocumentID; across batches they are matched by
// DocHash and the latest batch version wins.
//
// All functions are pure: inputs are never modified and results preserve
// first-occurrence order.
package score

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentMismatch = errors.New("document ids differ, cannot combine")
	ErrHashMismatch     = errors.New("document hashes differ, cannot take latest version")
)

// BatchInfo identifies the index generation a score was produced from.
type BatchInfo struct {
	VersionID int64 `json:"version_id"`
}

// DocumentScore is one document in a scored list.
type DocumentScore struct {
	DocumentID uint64    `json:"doc_id"`
	DocHash    uint64    `json:"doc_hash"`
	Score      float64   `json:"score"`
	Batch      BatchInfo `json:"batch"`
}

// Add sums other into s. Both must refer to the same document id.
func (s *DocumentScore) Add(other DocumentScore) error {
	if s.DocumentID != other.DocumentID {
		return fmt.Errorf("adding doc %d to doc %d: %w", other.DocumentID, s.DocumentID, ErrDocumentMismatch)
	}
	s.Score += other.Score
	return nil
}

func (s DocumentScore) String() string {
	return fmt.Sprintf("docid:%d score:%g", s.DocumentID, s.Score)
}

// CombineAnd keeps documents present in both lists, summing their scores.
// Order follows first.
func CombineAnd(first, other []DocumentScore) []DocumentScore {
	byID := index(other)
	result := make([]DocumentScore, 0, min(len(first), len(byID)))
	for _, s := range first {
		if match, ok := byID[s.DocumentID]; ok {
			s.Score += match.Score
			result = append(result, s)
		}
	}
	return result
}

// CombineAndPhrase is CombineAnd. Term adjacency is not checked at this
// layer.
func CombineAndPhrase(first, other []DocumentScore) []DocumentScore {
	return CombineAnd(first, other)
}

// CombineOr keeps every document of either list; documents present in both
// have their scores summed.
func CombineOr(first, other []DocumentScore) []DocumentScore {
	if first == nil && other == nil {
		return []DocumentScore{}
	}
	positions := make(map[uint64]int, len(first)+len(other))
	result := make([]DocumentScore, 0, len(first)+len(other))
	for _, list := range [][]DocumentScore{first, other} {
		for _, s := range list {
			if pos, ok := positions[s.DocumentID]; ok {
				result[pos].Score += s.Score
				continue
			}
			positions[s.DocumentID] = len(result)
			result = append(result, s)
		}
	}
	return result
}

// CombineOrPhrase is CombineOr. Term adjacency is not checked at this
// layer.
func CombineOrPhrase(first, other []DocumentScore) []DocumentScore {
	return CombineOr(first, other)
}

// Not keeps the documents of source whose id does not appear in exclude.
func Not(source, exclude []DocumentScore) []DocumentScore {
	excluded := index(exclude)
	result := make([]DocumentScore, 0, len(source))
	for _, s := range source {
		if _, ok := excluded[s.DocumentID]; !ok {
			result = append(result, s)
		}
	}
	return result
}

// Sum folds the lists with CombineOr. A single list is compressed instead.
func Sum(lists ...[]DocumentScore) []DocumentScore {
	switch len(lists) {
	case 0:
		return []DocumentScore{}
	case 1:
		return Compress(lists[0])
	}
	acc := lists[0]
	for _, list := range lists[1:] {
		acc = CombineOr(acc, list)
	}
	return acc
}

// Compress merges runs of adjacent entries sharing a document id into one
// entry carrying their summed score.
func Compress(scores []DocumentScore) []DocumentScore {
	result := make([]DocumentScore, 0, len(scores))
	for _, s := range scores {
		if n := len(result); n > 0 && result[n-1].DocumentID == s.DocumentID {
			result[n-1].Score += s.Score
			continue
		}
		result = append(result, s)
	}
	return result
}

// TakeLatestVersion returns whichever of the two entries comes from the
// higher batch version; on a tie the second wins. Scores are not summed.
func TakeLatestVersion(first, second DocumentScore) (DocumentScore, error) {
	if first.DocHash != second.DocHash {
		return DocumentScore{}, fmt.Errorf("comparing hash %d with %d: %w", first.DocHash, second.DocHash, ErrHashMismatch)
	}
	if first.Batch.VersionID > second.Batch.VersionID {
		return first, nil
	}
	return second, nil
}

// CombineTakingLatestVersion merges lists produced by independent batches,
// keyed by content hash, keeping only the latest version of each document.
func CombineTakingLatestVersion(lists ...[]DocumentScore) []DocumentScore {
	switch len(lists) {
	case 0:
		return []DocumentScore{}
	case 1:
		return lists[0]
	}
	positions := make(map[uint64]int)
	result := make([]DocumentScore, 0, len(lists[0]))
	for _, list := range lists {
		for _, s := range list {
			pos, ok := positions[s.DocHash]
			if !ok {
				positions[s.DocHash] = len(result)
				result = append(result, s)
				continue
			}
			// hashes are equal by construction of the map key
			latest, _ := TakeLatestVersion(result[pos], s)
			result[pos] = latest
		}
	}
	return result
}

func index(scores []DocumentScore) map[uint64]DocumentScore {
	byID := make(map[uint64]DocumentScore, len(scores))
	for _, s := range scores {
		if existing, ok := byID[s.DocumentID]; ok {
			s.Score += existing.Score
		}
		byID[s.DocumentID] = s
	}
	return byID
}
