package adminapi

import (
	"context"

	"github.com/go-kit/kit/log"
	"google.golang.org/grpc"

	"splinterd.io/server/admin"
	"splinterd.io/server/model"
	"splinterd.io/server/routing"
	"splinterd.io/server/splerr"
	"splinterd.io/server/splinterid"
)

// Server adapts admin.Service and the routing table's read paths onto
// the gRPC operator surface.
type Server struct {
	admin  *admin.Service
	table  *routing.Table
	logger log.Logger
}

func NewServer(adminService *admin.Service, table *routing.Table, logger log.Logger) *Server {
	return &Server{admin: adminService, table: table, logger: logger}
}

func (s *Server) SubmitProposal(ctx context.Context, req *SubmitProposalRequest) (*SubmitProposalResponse, error) {
	if req.Proposal == nil {
		return nil, splerr.NewUnsetField("proposal")
	}
	if err := s.admin.Submit(req.Proposal); err != nil {
		return nil, err
	}
	return &SubmitProposalResponse{Accepted: true}, nil
}

func (s *Server) Vote(ctx context.Context, req *VoteRequest) (*VoteResponse, error) {
	if req.Voter == "" {
		return nil, splerr.NewUnsetField("voter")
	}
	if err := s.admin.Vote(req.CircuitHash, splinterid.NodeId(req.Voter), req.Vote, req.PublicKey); err != nil {
		return nil, err
	}
	return &VoteResponse{Accepted: true}, nil
}

func (s *Server) GetCircuit(ctx context.Context, req *GetCircuitRequest) (*GetCircuitResponse, error) {
	circuit, ok := s.table.GetCircuit(splinterid.CircuitId(req.CircuitId))
	return &GetCircuitResponse{Circuit: circuit, Found: ok}, nil
}

func (s *Server) ListProposals(ctx context.Context, req *ListProposalsRequest) (*ListProposalsResponse, error) {
	proposals := s.admin.ListProposals()
	out := make([]ProposalSummary, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, toSummary(p))
	}
	return &ListProposalsResponse{Proposals: out}, nil
}

// eventStream adapts a buffered channel into admin.Subscriber for the
// lifetime of one StreamEvents call.
type eventStream struct {
	ch     chan model.AdminServiceEvent
	logger log.Logger
}

func newEventStream(logger log.Logger) *eventStream {
	return &eventStream{ch: make(chan model.AdminServiceEvent, 64), logger: logger}
}

func (e *eventStream) OnAdminEvent(ev model.AdminServiceEvent) {
	select {
	case e.ch <- ev:
	default:
		e.logger.Log("msg", "adminapi event stream buffer full, dropping event", "kind", ev.Kind.String())
	}
}

// StreamEvents pushes every AdminServiceEvent to the caller until the
// stream's context is cancelled. Wired through the hand-written
// ServiceDesc in desc.go rather than a protoc-generated stub.
func (s *Server) StreamEvents(req *StreamEventsRequest, stream grpc.ServerStream) error {
	sub := newEventStream(s.logger)
	s.admin.Subscribe(sub)
	defer s.admin.Unsubscribe(sub)

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case ev := <-sub.ch:
			wire := toEvent(ev)
			if err := stream.SendMsg(&wire); err != nil {
				return err
			}
		}
	}
}
