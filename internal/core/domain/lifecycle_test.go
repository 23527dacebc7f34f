package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from   DocumentStatus
		action LifecycleAction
		want   DocumentStatus
		ok     bool
	}{
		{StatusUploaded, ActionAnalyze, StatusProcessing, true},
		{StatusFailed, ActionAnalyze, StatusProcessing, true},
		{StatusAnalyzed, ActionRegenerate, StatusProcessing, true},
		{StatusProcessing, ActionSucceed, StatusAnalyzed, true},
		{StatusProcessing, ActionFail, StatusFailed, true},
		{StatusAnalyzed, ActionAnalyze, StatusAnalyzed, false},
		{StatusUploaded, ActionRegenerate, StatusUploaded, false},
		{StatusProcessing, ActionAnalyze, StatusProcessing, false},
		{StatusFailed, ActionRegenerate, StatusFailed, false},
	}
	for _, tc := range cases {
		got, err := Transition(tc.from, tc.action)
		if tc.ok {
			require.NoError(t, err, "%s --%s-->", tc.from, tc.action)
		} else {
			require.ErrorIs(t, err, ErrInvalidTransition, "%s --%s-->", tc.from, tc.action)
		}
		assert.Equal(t, tc.want, got)
	}
}

func TestBeginAnalysisHidesPreviousAnalysis(t *testing.T) {
	prev := &Analysis{Summary: "old"}
	doc := Document{ID: "d1", Status: StatusAnalyzed, Analysis: prev}

	hidden, err := doc.BeginAnalysis(ActionRegenerate)
	require.NoError(t, err)
	assert.Same(t, prev, hidden)
	assert.Equal(t, StatusProcessing, doc.Status)
	assert.Nil(t, doc.Analysis)

	require.NoError(t, doc.CompleteAnalysis(Analysis{Summary: "new"}))
	assert.Equal(t, StatusAnalyzed, doc.Status)
	assert.Equal(t, "new", doc.Analysis.Summary)
}

func TestFailAnalysisRequiresProcessing(t *testing.T) {
	doc := Document{Status: StatusUploaded}
	require.ErrorIs(t, doc.FailAnalysis(), ErrInvalidTransition)

	_, err := doc.BeginAnalysis(ActionAnalyze)
	require.NoError(t, err)
	require.NoError(t, doc.FailAnalysis())
	assert.Equal(t, StatusFailed, doc.Status)
	assert.True(t, CanAnalyze(doc))
	assert.False(t, CanRegenerate(doc))
}
