package engine

import (
	"fmt"
	"log/slog"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/log"
)

// scheduleTimeout arms a single scheduler task for the node's earliest
// ticking timeout, replacing any task armed before
func (a *nodeActor) scheduleTimeout(node *api.NodeExecution) {
	path := nodeTaskPath(a.ref, pathTimeout)
	at, _, ok := a.group(node).NextExpiry()
	if !ok {
		a.CancelTask(path)
		return
	}
	ref := a.ref
	a.ScheduleTask(path, at, func() error {
		a.send(ref, msgTimeout{})
		return nil
	})
}

func (a *nodeActor) timeout() error {
	node, err := a.load()
	if err != nil || node.ID == "" || node.Status.IsTerminal() {
		return err
	}
	dim, ok := a.group(node).Expired()
	if !ok {
		a.scheduleTimeout(node)
		return nil
	}
	slog.Warn("Node timed out",
		log.PlanExecutionID(node.PlanExecutionID),
		log.NodeExecutionID(node.ID),
		slog.String("dimension", string(dim)))
	return a.force(node, &outcome{
		status: api.StatusExpired,
		failure: api.NewFailure(api.FailureTimeout,
			fmt.Sprintf("%s timeout elapsed", dim)),
		immediate: true,
	})
}
