package storage

import (
	"fmt"

	"github.com/slok/taskflow/internal/model"
)

// CheckAppendOnly checks that the updated task only appends to the stored
// task's history and artifacts.
func CheckAppendOnly(stored, updated model.Task) error {
	if len(updated.History) < len(stored.History) {
		return fmt.Errorf("history can't shrink: %w", model.ErrNotValid)
	}
	for i, h := range stored.History {
		u := updated.History[i]
		if h.From != u.From || h.To != u.To || h.Trigger != u.Trigger || h.Actor != u.Actor || h.Reason != u.Reason || !h.Timestamp.Equal(u.Timestamp) {
			return fmt.Errorf("history entry %d can't be rewritten: %w", i, model.ErrNotValid)
		}
	}

	for phase, as := range stored.Artifacts {
		uas := updated.Artifacts[phase]
		if len(uas) < len(as) {
			return fmt.Errorf("%s artifacts can't be removed: %w", phase, model.ErrNotValid)
		}
		for i, a := range as {
			if uas[i] != a {
				return fmt.Errorf("%s artifact %d can't be overwritten: %w", phase, i, model.ErrNotValid)
			}
		}
	}

	return nil
}
