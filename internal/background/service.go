package background

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/pbaille/postkeep/internal/bus"
	"github.com/pbaille/postkeep/internal/metrics"
	"github.com/pbaille/postkeep/internal/protocol"
)

// Service is the message handler of the background endpoint. Requests that
// hit the network are answered from their own goroutine so the endpoint
// keeps serving while a save is in flight.
type Service struct {
	orch *Orchestrator
	bus  *bus.Bus
	log  *zap.Logger
}

// NewService creates the handler
func NewService(o *Orchestrator, b *bus.Bus, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{orch: o, bus: b, log: log}
}

// Register starts the background endpoint on the bus
func (s *Service) Register(ctx context.Context) (*bus.Endpoint, error) {
	return s.bus.Register(ctx, protocol.Background, s.Handle)
}

// Handle dispatches one request
func (s *Service) Handle(ctx context.Context, req *bus.Request) {
	switch m := req.Msg.(type) {
	case protocol.SavePost:
		if !s.orch.Admit() {
			metrics.RateLimited.WithLabelValues(protocol.Background).Inc()
			req.Respond(protocol.SaveResult{Error: msgRateLimit}, nil)
			return
		}
		origin := m.Origin
		if origin == "" && protocol.IsPage(req.From) {
			origin = req.From
		}
		go func() {
			res, _ := s.orch.Save(ctx, m.Post, origin)
			req.Respond(res, nil)
		}()

	case protocol.GetStatus:
		go func() {
			st := protocol.Status{Authenticated: s.orch.LoggedIn()}
			if st.Authenticated {
				st.AccountLabel = s.orch.AccountLabel(ctx)
			}
			req.Respond(st, nil)
		}()

	case protocol.UpdateEngagement:
		if m.Permalink == "" {
			req.Respond(protocol.Ack{Error: "postUrl is required"}, nil)
			return
		}
		go func() {
			if err := s.orch.UpdateEngagement(ctx, m.Permalink, m.Engagement); err != nil {
				req.Respond(protocol.Ack{Error: err.Error()}, nil)
				return
			}
			req.Respond(protocol.Ack{OK: true}, nil)
		}()

	case protocol.FetchPostImages:
		origin := m.Origin
		if origin == "" && protocol.IsPage(req.From) {
			origin = req.From
		}
		go func() {
			if _, err := s.orch.FetchMedia(ctx, m.PostID, m.Refs, origin); err != nil {
				req.Respond(protocol.Ack{Error: err.Error()}, nil)
				return
			}
			req.Respond(protocol.Ack{OK: true}, nil)
		}()

	default:
		req.Respond(nil, eris.Errorf("background: unsupported message %T", req.Msg))
	}
}

// CaptureFrom asks page for the post the user means, saves it and shows
// the outcome in the page. It is the path of a save triggered from outside
// the page (a context menu or the CLI).
func (s *Service) CaptureFrom(ctx context.Context, page string, mode protocol.Mode) (protocol.SaveResult, *Attempt) {
	notify := func(res protocol.SaveResult) {
		msg := res.Message
		if !res.Success {
			msg = res.Error
		}
		if err := s.bus.Post(ctx, protocol.Background, page, protocol.ShowNotification{Success: res.Success, Message: msg}); err != nil {
			s.log.Debug("notification not delivered", zap.String("page", page), zap.Error(err))
		}
	}

	if !s.orch.Admit() {
		metrics.RateLimited.WithLabelValues(protocol.Background).Inc()
		res := protocol.SaveResult{Error: "Too many saves, please wait a minute"}
		notify(res)
		return res, nil
	}

	extracted, err := bus.Call[protocol.PostExtracted](ctx, s.bus, protocol.Background, page, protocol.ExtractPost{Mode: mode})
	if err != nil {
		s.log.Debug("extraction failed", zap.String("page", page), zap.Error(err))
		res := protocol.SaveResult{Error: msgNoPost}
		notify(res)
		return res, nil
	}

	res, attempt := s.orch.Save(ctx, extracted.Post, page)
	notify(res)
	return res, attempt
}
