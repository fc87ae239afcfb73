package position

import "context"

// Session tracks the per-connection state a short update ("12.3|") needs to
// resolve against: the (group, collection, rel_path) of the last long update
// sent on the same connection: a short update reuses the group/col/path of
// the most recent long update on this connection; with none yet, it is an
// error.
//
// defaultGroup carries the connection's group identity established at
// upgrade time (the wire grammar itself has no way to carry a group on a
// bare "?"/empty generic query): a fresh connection that issues a generic
// query before ever sending a long update still answers for its own group,
// not an empty one.
type Session struct {
	hub *Hub

	defaultGroup string
	haveTarget   bool
	group        string
	col          int
	relPath      string
}

// NewSession opens one connection's worth of protocol state against hub,
// scoped to defaultGroup (the group named at the /position upgrade, if any).
func NewSession(hub *Hub, defaultGroup string) *Session {
	return &Session{hub: hub, defaultGroup: defaultGroup}
}

// Handle applies or answers msg and returns the response to write back, if
// any (updates produce no response; queries do).
func (s *Session) Handle(ctx context.Context, msg Message) (*Response, error) {
	switch msg.Kind {
	case KindUpdateLong, KindUpdateLongTS:
		s.haveTarget = true
		s.group, s.col, s.relPath = msg.Group, msg.Col, msg.RelPath
		return nil, s.hub.Apply(ctx, Update{
			Group:         msg.Group,
			CollectionID:  msg.Col,
			RelPath:       msg.RelPath,
			PositionSecs:  msg.Secs,
			TimestampUnix: msg.UnixSecs,
		})

	case KindUpdateShort:
		if !s.haveTarget {
			return nil, ErrNoPrevious
		}
		return nil, s.hub.Apply(ctx, Update{
			Group:        s.group,
			CollectionID: s.col,
			RelPath:      s.relPath,
			PositionSecs: msg.Secs,
		})

	case KindQuery:
		resp, err := s.hub.Query(ctx, msg.Group, msg.Col, msg.RelPath)
		if err != nil {
			return nil, err
		}
		return &resp, nil

	case KindGenericQuery:
		group := s.defaultGroup
		if s.haveTarget {
			group = s.group
		}
		resp, err := s.hub.GenericQuery(ctx, group)
		if err != nil {
			return nil, err
		}
		return &resp, nil

	default:
		return nil, ErrMalformed
	}
}
