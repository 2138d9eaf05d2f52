package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/floegence/redeven-coder/internal/patch"
	"github.com/floegence/redeven-coder/internal/thread"
)

// Rollback removes the roundtrip containing messageID and every later one.
// With revertEdits set, the file edits those roundtrips made are undone,
// newest first, and the inverses are written to the workspace.
func (a *Agent) Rollback(ctx context.Context, th *thread.Thread, messageID string, revertEdits bool) ([]*thread.Roundtrip, error) {
	if th == nil {
		return nil, errors.New("nil thread")
	}
	removed, err := th.RollbackRoundtripTo(messageID)
	if err != nil {
		return nil, err
	}
	a.save(ctx, th)
	a.log.Info("thread rolled back", "thread_id", th.UUID, "removed", len(removed), "revert_edits", revertEdits)
	if !revertEdits {
		return removed, nil
	}
	return removed, RevertRoundtrips(a.ws, removed)
}

// EditWriter is the workspace capability reverts are committed through.
type EditWriter interface {
	Write(p string, content string) error
	Delete(p string) error
}

// RevertRoundtrips undoes the edits of rts, last roundtrip first. It keeps
// going past failures and reports all of them.
func RevertRoundtrips(ws EditWriter, rts []*thread.Roundtrip) error {
	var errs []error
	for i := len(rts) - 1; i >= 0; i-- {
		for _, rev := range rts[i].Edits.Reverts() {
			if err := commitEdit(ws, rev); err != nil {
				errs = append(errs, fmt.Errorf("revert %s: %w", rev.File, err))
			}
		}
	}
	return errors.Join(errs...)
}

func commitEdit(ws EditWriter, r patch.FileEditResult) error {
	if r.Kind == patch.EditDelete {
		return ws.Delete(r.File)
	}
	return ws.Write(r.File, r.NewContent)
}
