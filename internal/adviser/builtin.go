package adviser

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/tidwall/gjson"

	"github.com/kode4food/conductor/pkg/api"
	"github.com/kode4food/conductor/pkg/util"
)

type (
	statusAdviser struct {
		statuses []api.Status
		advise   func(*api.AdvisingEvent) (*api.Advise, error)
	}

	retryAdviser struct {
		statuses   []api.Status
		count      int
		intervals  []time.Duration
		afterRetry api.AdviseType
	}
)

const (
	nextNodeParam      = api.NextNodeParam
	statusesParam      = "statuses"
	retryCountParam    = "retryCount"
	waitIntervalsParam = "waitIntervals"
	afterRetryParam    = "afterRetry"
	toParam            = "to"
)

var (
	failedStatuses = []api.Status{api.StatusFailed, api.StatusErrored}

	interventionStatuses = []api.Status{
		api.StatusFailed, api.StatusErrored, api.StatusExpired,
	}
)

func (a *statusAdviser) CanAdvise(status api.Status) bool {
	return slices.Contains(a.statuses, status)
}

func (a *statusAdviser) OnAdviseEvent(
	ev *api.AdvisingEvent,
) (*api.Advise, error) {
	return a.advise(ev)
}

func onSuccessProducer(params json.RawMessage) (Adviser, error) {
	next := api.PlanNodeID(param(params, nextNodeParam).String())
	statuses, err := paramStatuses(params, api.StatusSucceeded)
	if err != nil {
		return nil, err
	}
	return fixed(statuses, &api.Advise{
		Type:       api.AdviseNextStep,
		NextNodeID: next,
	}), nil
}

func onFailProducer(params json.RawMessage) (Adviser, error) {
	next := api.PlanNodeID(param(params, nextNodeParam).String())
	if next == "" {
		return nil, fmt.Errorf("%w: %s is required",
			ErrInvalidParameters, nextNodeParam)
	}
	statuses, err := paramStatuses(params, failedStatuses...)
	if err != nil {
		return nil, err
	}
	return fixed(statuses, &api.Advise{
		Type:       api.AdviseNextStep,
		NextNodeID: next,
		Reason:     "failure branch",
	}), nil
}

func ignoreProducer(params json.RawMessage) (Adviser, error) {
	statuses, err := paramStatuses(params, failedStatuses...)
	if err != nil {
		return nil, err
	}
	return fixed(statuses, &api.Advise{Type: api.AdviseIgnore}), nil
}

func interventionProducer(params json.RawMessage) (Adviser, error) {
	statuses, err := paramStatuses(params, interventionStatuses...)
	if err != nil {
		return nil, err
	}
	return fixed(statuses, &api.Advise{Type: api.AdviseIntervene}), nil
}

func endPlanProducer(params json.RawMessage) (Adviser, error) {
	statuses, err := paramStatuses(params, failedStatuses...)
	if err != nil {
		return nil, err
	}
	return fixed(statuses, &api.Advise{Type: api.AdviseEndPlan}), nil
}

func markProducer(params json.RawMessage) (Adviser, error) {
	var typ api.AdviseType
	switch to := api.Status(param(params, toParam).String()); to {
	case api.StatusSucceeded:
		typ = api.AdviseMarkSuccess
	case api.StatusFailed:
		typ = api.AdviseMarkFailed
	default:
		return nil, fmt.Errorf("%w: %s %q", ErrInvalidParameters, toParam, to)
	}
	statuses, err := paramStatuses(params, failedStatuses...)
	if err != nil {
		return nil, err
	}
	return fixed(statuses, &api.Advise{Type: typ}), nil
}

func retryProducer(params json.RawMessage) (Adviser, error) {
	count := param(params, retryCountParam)
	if count.Type != gjson.Number || count.Int() < 0 {
		return nil, fmt.Errorf("%w: %s is required",
			ErrInvalidParameters, retryCountParam)
	}
	intervals, err := util.Durations(param(params, waitIntervalsParam))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}
	after := api.AdviseType(param(params, afterRetryParam).String())
	switch after {
	case "":
		after = api.AdvisePropagate
	case api.AdvisePropagate, api.AdviseIgnore, api.AdviseMarkSuccess,
		api.AdviseMarkFailed, api.AdviseIntervene, api.AdviseEndPlan:
	default:
		return nil, fmt.Errorf("%w: %s %q",
			ErrInvalidParameters, afterRetryParam, after)
	}
	statuses, err := paramStatuses(params, failedStatuses...)
	if err != nil {
		return nil, err
	}
	return &retryAdviser{
		statuses:   statuses,
		count:      int(count.Int()),
		intervals:  intervals,
		afterRetry: after,
	}, nil
}

// CanAdvise never accepts forced terminations
func (a *retryAdviser) CanAdvise(status api.Status) bool {
	return !status.IsForced() && slices.Contains(a.statuses, status)
}

func (a *retryAdviser) OnAdviseEvent(
	ev *api.AdvisingEvent,
) (*api.Advise, error) {
	done := len(ev.RetryIDs)
	if done >= a.count {
		return &api.Advise{
			Type:   a.afterRetry,
			Reason: fmt.Sprintf("retries exhausted after %d", done),
		}, nil
	}
	res := &api.Advise{
		Type:   api.AdviseRetry,
		Reason: fmt.Sprintf("retry %d of %d", done+1, a.count),
	}
	if len(a.intervals) > 0 {
		wait := a.intervals[min(done, len(a.intervals)-1)]
		res.RetryMillis = wait.Milliseconds()
	}
	return res, nil
}

func fixed(statuses []api.Status, adv *api.Advise) Adviser {
	return &statusAdviser{
		statuses: statuses,
		advise: func(*api.AdvisingEvent) (*api.Advise, error) {
			res := *adv
			return &res, nil
		},
	}
}

func param(params json.RawMessage, name string) gjson.Result {
	if len(params) == 0 {
		return gjson.Result{}
	}
	return gjson.GetBytes(params, name)
}

func paramStatuses(
	params json.RawMessage, def ...api.Status,
) ([]api.Status, error) {
	v := param(params, statusesParam)
	if !v.Exists() {
		return def, nil
	}
	var res []api.Status
	for _, e := range v.Array() {
		s := api.Status(e.String())
		if !s.IsTerminal() {
			return nil, fmt.Errorf("%w: %s %q",
				ErrInvalidParameters, statusesParam, s)
		}
		res = append(res, s)
	}
	return res, nil
}
