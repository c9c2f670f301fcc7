package jobs

import "fmt"

// checkpoint は段階ごとの固定進捗率です。
func checkpoint(s Stage) int {
	switch s {
	case StagePreparing:
		return PercentPreparing
	case StageProcessing:
		return PercentProcessing
	case StageFinalizing:
		return PercentFinalizing
	case StageComplete:
		return PercentComplete
	default:
		return PercentQueued
	}
}

// advance は非終端段階を1つ進めます（同じ段階ならメッセージのみ更新）。
func advance(r *Record, to Stage, message string) error {
	if r.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Stage)
	}
	if to.Terminal() {
		return fmt.Errorf("%w: use complete/fail for %s", ErrInvalidTransition, to)
	}
	from, okFrom := stageOrder[r.Stage]
	next, okTo := stageOrder[to]
	if !okFrom || !okTo || (next != from && next != from+1) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Stage, to)
	}
	percent := checkpoint(to)
	if percent < r.Percent {
		return fmt.Errorf("%w: percent %d -> %d", ErrInvalidTransition, r.Percent, percent)
	}
	r.Stage = to
	r.Percent = percent
	r.Message = message
	return nil
}

// complete は finalizing から complete へ遷移し、成果を確定します。
func complete(r *Record, result *Result, message string) error {
	if r.Stage != StageFinalizing {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Stage, StageComplete)
	}
	if result == nil {
		return fmt.Errorf("%w: complete without result", ErrInvalidTransition)
	}
	r.Stage = StageComplete
	r.Percent = PercentComplete
	r.Message = message
	r.Result = result
	r.Error = nil
	return nil
}

// fail は任意の非終端段階から failed へ遷移します。進捗率は失敗した段階の値を保ちます。
func fail(r *Record, info ErrorInfo) error {
	if r.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, r.Stage)
	}
	r.Stage = StageFailed
	r.Message = info.Message
	r.Error = &info
	r.Result = nil
	return nil
}
