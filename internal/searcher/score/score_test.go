package score

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ds(id uint64, s float64) DocumentScore {
	return DocumentScore{DocumentID: id, DocHash: id * 100, Score: s}
}

func ids(scores []DocumentScore) []uint64 {
	out := make([]uint64, len(scores))
	for i, s := range scores {
		out[i] = s.DocumentID
	}
	return out
}

func scoreOf(t *testing.T, scores []DocumentScore, id uint64) float64 {
	t.Helper()
	for _, s := range scores {
		if s.DocumentID == id {
			return s.Score
		}
	}
	t.Fatalf("doc %d not in result", id)
	return 0
}

func TestAddRejectsMismatchedIDs(t *testing.T) {
	a := ds(1, 1)
	require.NoError(t, a.Add(ds(1, 2)))
	assert.Equal(t, 3.0, a.Score)

	err := a.Add(ds(2, 1))
	require.ErrorIs(t, err, ErrDocumentMismatch)
	assert.Equal(t, 3.0, a.Score)
}

func TestCombineAnd(t *testing.T) {
	a := []DocumentScore{ds(1, 1), ds(2, 2), ds(3, 3)}
	b := []DocumentScore{ds(3, 0.5), ds(1, 0.25), ds(9, 9)}

	got := CombineAnd(a, b)
	assert.Equal(t, []uint64{1, 3}, ids(got))
	assert.Equal(t, 1.25, scoreOf(t, got, 1))
	assert.Equal(t, 3.5, scoreOf(t, got, 3))

	// inputs untouched
	assert.Equal(t, 1.0, a[0].Score)
	assert.Equal(t, got, CombineAndPhrase(a, b))
}

func TestCombineOr(t *testing.T) {
	a := []DocumentScore{ds(1, 1), ds(2, 2)}
	b := []DocumentScore{ds(2, 0.5), ds(3, 3)}

	got := CombineOr(a, b)
	assert.Equal(t, []uint64{1, 2, 3}, ids(got))
	assert.Equal(t, 1.0, scoreOf(t, got, 1))
	assert.Equal(t, 2.5, scoreOf(t, got, 2))
	assert.Equal(t, 3.0, scoreOf(t, got, 3))
	assert.Equal(t, 2.0, a[1].Score)
	assert.Equal(t, got, CombineOrPhrase(a, b))

	assert.Equal(t, []uint64{1, 2}, ids(CombineOr(a, nil)))
	assert.Empty(t, CombineOr(nil, nil))
}

func TestNot(t *testing.T) {
	a := []DocumentScore{ds(1, 1), ds(2, 2), ds(3, 3)}
	got := Not(a, []DocumentScore{ds(2, 7)})
	assert.Equal(t, []uint64{1, 3}, ids(got))
	assert.Equal(t, 3.0, scoreOf(t, got, 3))
	assert.Equal(t, ids(a), ids(Not(a, nil)))
}

func TestSumAndCompress(t *testing.T) {
	assert.Empty(t, Sum())

	single := Sum([]DocumentScore{ds(1, 1), ds(1, 2), ds(2, 1), ds(1, 1)})
	assert.Equal(t, []uint64{1, 2, 1}, ids(single))
	assert.Equal(t, 3.0, single[0].Score)

	multi := Sum([]DocumentScore{ds(1, 1)}, []DocumentScore{ds(1, 1), ds(2, 1)}, []DocumentScore{ds(2, 2)})
	assert.Equal(t, []uint64{1, 2}, ids(multi))
	assert.Equal(t, 2.0, scoreOf(t, multi, 1))
	assert.Equal(t, 3.0, scoreOf(t, multi, 2))
}

func TestCombineTakingLatestVersion(t *testing.T) {
	v1 := DocumentScore{DocumentID: 4, DocHash: 77, Score: 10, Batch: BatchInfo{VersionID: 1}}
	v2 := DocumentScore{DocumentID: 9, DocHash: 77, Score: 0.5, Batch: BatchInfo{VersionID: 2}}
	other := DocumentScore{DocumentID: 5, DocHash: 88, Score: 1, Batch: BatchInfo{VersionID: 1}}

	got := CombineTakingLatestVersion([]DocumentScore{v1, other}, []DocumentScore{v2})
	require.Len(t, got, 2)
	assert.Equal(t, v2, got[0])
	assert.Equal(t, other, got[1])

	// order of the lists does not change the winner
	got = CombineTakingLatestVersion([]DocumentScore{v2}, []DocumentScore{v1})
	require.Len(t, got, 1)
	assert.Equal(t, v2, got[0])
}

func TestTakeLatestVersionRejectsHashMismatch(t *testing.T) {
	_, err := TakeLatestVersion(ds(1, 1), ds(2, 1))
	require.ErrorIs(t, err, ErrHashMismatch)

	a := DocumentScore{DocHash: 1, Batch: BatchInfo{VersionID: 3}, Score: 1}
	b := DocumentScore{DocHash: 1, Batch: BatchInfo{VersionID: 3}, Score: 2}
	got, err := TakeLatestVersion(a, b)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}
