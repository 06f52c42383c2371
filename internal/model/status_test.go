package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition_ForwardPath(t *testing.T) {
	t.Parallel()

	for i := 0; i < len(progression)-1; i++ {
		from, to := progression[i], progression[i+1]
		assert.True(t, CanTransition(from, to), "%s -> %s", from, to)
	}
}

func TestCanTransition_Rejections(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from, to Status
	}{
		{StatusDiscovered, StatusDownloaded},
		{StatusDiscovered, StatusConsolidated},
		{StatusStructured, StatusDownloaded},
		{StatusConsolidated, StatusStructured},
		{StatusFetched, StatusFailedOCR},
		{StatusFailedOCR, StatusTextCorrected},
		{StatusConsolidated, StatusConsolidated},
		{Status("bogus"), StatusFetched},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			t.Parallel()
			assert.False(t, CanTransition(tt.from, tt.to))
		})
	}
}

func TestCanTransition_FailureRetry(t *testing.T) {
	t.Parallel()

	assert.True(t, CanTransition(StatusFailedFetch, StatusFetched))
	assert.True(t, CanTransition(StatusFailedDownload, StatusDownloaded))
	assert.True(t, CanTransition(StatusFailedOCR, StatusOCRExtracted))
	assert.True(t, CanTransition(StatusFailedExtraction, StatusTextCorrected))
	assert.True(t, CanTransition(StatusFailedExtraction, StatusStructured))
	assert.True(t, CanTransition(StatusFailedConsolidation, StatusConsolidated))
}

func TestStatus_RankAndPosition(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0, StatusDiscovered.Rank())
	assert.Equal(t, 6, StatusConsolidated.Rank())
	assert.Equal(t, -1, StatusFailedOCR.Rank())
	assert.Equal(t, StatusDownloaded.Rank(), StatusFailedOCR.Position())
	assert.Equal(t, StatusDownloaded, StatusFailedOCR.ResumeStatus())
	assert.Equal(t, StatusStructured, StatusStructured.ResumeStatus())
}

func TestStatus_Before(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []Status{StatusStructured, StatusTextCorrected, StatusOCRExtracted, StatusDownloaded, StatusFetched, StatusDiscovered},
		StatusConsolidated.Before())
	assert.Nil(t, StatusDiscovered.Before())
}

func TestCanRegress(t *testing.T) {
	t.Parallel()

	assert.True(t, CanRegress(StatusConsolidated, StatusTextCorrected))
	assert.True(t, CanRegress(StatusStructured, StatusDownloaded))
	assert.True(t, CanRegress(StatusFailedOCR, StatusDownloaded))
	assert.False(t, CanRegress(StatusDownloaded, StatusStructured))
	assert.False(t, CanRegress(StatusStructured, StatusStructured))
	assert.False(t, CanRegress(StatusConsolidated, StatusFailedExtraction))
}

func TestAllStatuses_Valid(t *testing.T) {
	t.Parallel()

	all := AllStatuses()
	assert.Len(t, all, 12)
	for _, s := range all {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, Status("json_extracted").Valid())
}
