package service

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const compensateTimeout = 30 * time.Second

type sagaStep int

const (
	stepReserve sagaStep = iota
	stepWrite
	stepCommit
	stepDone
)

func (s sagaStep) String() string {
	switch s {
	case stepReserve:
		return "reserve"
	case stepWrite:
		return "write"
	case stepCommit:
		return "commit"
	case stepDone:
		return "done"
	}
	return "unknown"
}

type compensation struct {
	step   sagaStep
	action string
	undo   func(context.Context) error
}

// saga tracks which upload step is running and the undo action of every step
// that completed. finish runs the undo actions newest first when the upload
// returned an error.
type saga struct {
	id   string
	log  *zap.SugaredLogger
	step sagaStep
	done []compensation
}

func newSaga(id string, log *zap.SugaredLogger) *saga {
	return &saga{id: id, log: log, step: stepReserve}
}

func (sg *saga) advance(step sagaStep) { sg.step = step }

// completed records that the current step succeeded and how to undo it.
func (sg *saga) completed(action string, undo func(context.Context) error) {
	sg.done = append(sg.done, compensation{step: sg.step, action: action, undo: undo})
}

// finish must be deferred with a pointer to the caller's named error. The
// caller's error is never replaced; undo failures are only logged.
func (sg *saga) finish(ctx context.Context, errp *error) {
	if *errp == nil {
		return
	}
	cause := *errp
	// the request may already be canceled; cleanup still has to run
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
	defer cancel()

	for i := len(sg.done) - 1; i >= 0; i-- {
		c := sg.done[i]
		if err := c.undo(cctx); err != nil {
			sg.log.Errorw("compensation failed",
				"upload_id", sg.id, "step", c.step.String(), "action", c.action, "err", err, "cause", cause)
			continue
		}
		sg.log.Infow("compensated", "upload_id", sg.id, "step", c.step.String(), "action", c.action)
	}
	sg.log.Warnw("upload rolled back", "upload_id", sg.id, "failed_step", sg.step.String(), "err", cause)
}
