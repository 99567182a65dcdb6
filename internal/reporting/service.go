package reporting

import (
	"context"
	"errors"
	"time"

	"callcenter-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
//
// Implementations should read the shared call table directly; summaries must
// reflect the persisted truth, not any one agent's local projection.

type Repository interface {
	ListCalls(ctx context.Context, from, to time.Time, agentID string) ([]calls.Call, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCalls(ctx, req.Range.From, req.Range.To, req.AgentID)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{AgentID: req.AgentID}
	for _, c := range rows {
		out.TotalCalls++

		switch c.Direction {
		case calls.DirectionInbound:
			out.InboundCalls++
		case calls.DirectionOutbound:
			out.OutboundCalls++
		}

		switch c.Status {
		case calls.CallStatusCompleted:
			out.CompletedCalls++
		case calls.CallStatusFailed:
			out.FailedCalls++
		case calls.CallStatusNoAnswer:
			out.NoAnswerCalls++
		case calls.CallStatusBusy:
			out.BusyCalls++
		case calls.CallStatusCanceled:
			out.CanceledCalls++
		case calls.CallStatusInProgress:
			out.InProgressCalls++
		case calls.CallStatusRinging:
			out.RingingCalls++
		}

		out.TotalTalkSeconds += talkSeconds(c)
	}
	answered := out.CompletedCalls + out.InProgressCalls
	if answered > 0 {
		out.AverageTalkSeconds = out.TotalTalkSeconds / answered
	}
	return out, nil
}

// talkSeconds measures answered time. Calls still in progress count up to
// their last known state change only when an end timestamp exists, so a
// snapshot summary stays stable between polls.
func talkSeconds(c calls.Call) int {
	if c.StartedAt == nil || c.EndedAt == nil {
		return 0
	}
	d := c.EndedAt.Sub(*c.StartedAt)
	if d < 0 {
		return 0
	}
	return int(d / time.Second)
}
