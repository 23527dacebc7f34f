package domain

import "fmt"

// LifecycleAction drives the document status state machine.
type LifecycleAction string

const (
	ActionAnalyze    LifecycleAction = "analyze"
	ActionRegenerate LifecycleAction = "regenerate"
	ActionSucceed    LifecycleAction = "succeed"
	ActionFail       LifecycleAction = "fail"
)

var transitions = map[DocumentStatus]map[LifecycleAction]DocumentStatus{
	StatusUploaded: {
		ActionAnalyze: StatusProcessing,
	},
	StatusAnalyzed: {
		ActionRegenerate: StatusProcessing,
	},
	StatusProcessing: {
		ActionSucceed: StatusAnalyzed,
		ActionFail:    StatusFailed,
	},
	StatusFailed: {
		ActionAnalyze: StatusProcessing,
	},
}

// Transition returns the status reached by applying action to from.
func Transition(from DocumentStatus, action LifecycleAction) (DocumentStatus, error) {
	if next, ok := transitions[from][action]; ok {
		return next, nil
	}
	return from, WrapError(ErrInvalidTransition, "transition", fmt.Errorf("cannot %s a document in status %q", action, from))
}

func CanAnalyze(d Document) bool {
	return d.Status == StatusUploaded || d.Status == StatusFailed
}

func CanRegenerate(d Document) bool {
	return d.Status == StatusAnalyzed
}

// CanDownload is true for every existing document regardless of analysis state.
func CanDownload(Document) bool {
	return true
}

func CanDelete(Document) bool {
	return true
}

// BeginAnalysis moves d into processing and returns the analysis it hid.
func (d *Document) BeginAnalysis(action LifecycleAction) (*Analysis, error) {
	next, err := Transition(d.Status, action)
	if err != nil {
		return nil, err
	}
	prev := d.Analysis
	d.Status = next
	d.Analysis = nil
	return prev, nil
}

// CompleteAnalysis commits a successful analysis result.
func (d *Document) CompleteAnalysis(a Analysis) error {
	next, err := Transition(d.Status, ActionSucceed)
	if err != nil {
		return err
	}
	d.Status = next
	d.Analysis = &a
	return nil
}

// FailAnalysis moves a processing document into failed.
func (d *Document) FailAnalysis() error {
	next, err := Transition(d.Status, ActionFail)
	if err != nil {
		return err
	}
	d.Status = next
	d.Analysis = nil
	return nil
}

type AnalyzeOptions struct {
	Regenerate bool
}

// Action maps the options to the state machine action.
func (o AnalyzeOptions) Action() LifecycleAction {
	if o.Regenerate {
		return ActionRegenerate
	}
	return ActionAnalyze
}
