package node

import (
	"github.com/gopherlang/ernode/dist"
	"github.com/gopherlang/ernode/internal/metrics"
	"github.com/gopherlang/ernode/term"
)

// nodeRouter adapts *Node to dist.Router, keeping the dependency direction
// node -> dist (package dist never imports package node; see Router's doc
// in dist/connection.go).
type nodeRouter Node

func (r *nodeRouter) node() *Node { return (*Node)(r) }

// Deliver implements spec.md §4.D's control-message dispatch table.
func (r *nodeRouter) Deliver(conn *dist.Connection, ctl dist.Control) {
	n := r.node()
	n.call(func(s *registrarState) {
		s.dispatch(conn, ctl)
	})
}

func (r *nodeRouter) Closed(conn *dist.Connection, err error) {
	n := r.node()
	n.call(func(s *registrarState) {
		s.connectionClosed(conn)
	})
}

func (s *registrarState) dispatch(conn *dist.Connection, ctl dist.Control) {
	switch ctl.Tag {
	case dist.CtlLink:
		if len(ctl.Tuple) != 3 {
			return
		}
		from, _ := ctl.Tuple[1].(term.Pid)
		to, ok := ctl.Tuple[2].(term.Pid)
		if !ok {
			return
		}
		if p, exists := s.processes[to]; exists {
			if _, linked := p.links[from]; !linked {
				p.links[from] = &linkEntry{peer: from, remote: true}
			}
		}

	case dist.CtlExit:
		if len(ctl.Tuple) != 4 {
			return
		}
		from, _ := ctl.Tuple[1].(term.Pid)
		to, ok := ctl.Tuple[2].(term.Pid)
		if !ok {
			return
		}
		s.exit(to, ctl.Tuple[3], true, from)

	case dist.CtlExit2:
		if len(ctl.Tuple) != 4 {
			return
		}
		from, _ := ctl.Tuple[1].(term.Pid)
		to, ok := ctl.Tuple[2].(term.Pid)
		if !ok {
			return
		}
		s.exit(to, ctl.Tuple[3], false, from)

	case dist.CtlRegSend:
		if len(ctl.Tuple) != 4 || ctl.Payload == nil {
			return
		}
		from := ctl.Tuple[1]
		toName, ok := ctl.Tuple[3].(term.Atom)
		if !ok {
			return
		}
		if pid, exists := s.names[string(toName)]; exists {
			s.deliverLocal(pid, from, ctl.Payload)
		}

	case dist.CtlSendSender:
		if len(ctl.Tuple) != 3 || ctl.Payload == nil {
			return
		}
		from := ctl.Tuple[1]
		to, ok := ctl.Tuple[2].(term.Pid)
		if !ok {
			return
		}
		s.deliverLocal(to, from, ctl.Payload)

	case dist.CtlUnlinkID:
		if len(ctl.Tuple) != 4 {
			return
		}
		idTerm, ok := ctl.Tuple[1].(term.Integer)
		if !ok {
			return
		}
		from, _ := ctl.Tuple[2].(term.Pid)
		to, ok := ctl.Tuple[3].(term.Pid)
		if !ok {
			return
		}
		if p, exists := s.processes[to]; exists {
			if entry, linked := p.links[from]; linked && entry.outstandingUnlink == nil {
				delete(p.links, from)
			}
			if err := conn.Send(dist.UnlinkIDAccControl(uint64(idTerm.Int64()), to, from), nil); err != nil {
				s.node.Logger.Warn().Err(err).Msg("node: unlink_id_acc send failed")
			}
		}

	case dist.CtlUnlinkIDAcc:
		if len(ctl.Tuple) != 4 {
			return
		}
		idTerm, ok := ctl.Tuple[1].(term.Integer)
		if !ok {
			return
		}
		from, _ := ctl.Tuple[2].(term.Pid)
		to, ok := ctl.Tuple[3].(term.Pid)
		if !ok {
			return
		}
		if p, exists := s.processes[to]; exists {
			if entry, linked := p.links[from]; linked && entry.outstandingUnlink != nil && *entry.outstandingUnlink == uint64(idTerm.Int64()) {
				delete(p.links, from)
			}
		}

	default:
		s.node.Logger.Debug().Int64("tag", ctl.Tag).Msg("node: unhandled control message, ignoring")
	}
}

// connectionClosed implements spec.md §5's "Connection close terminates all
// pending RPCs" by removing the dead connection from the map; any pending
// receives eventually surface as a timeout, since there's nothing left to
// reply.
func (s *registrarState) connectionClosed(conn *dist.Connection) {
	for name, c := range s.conns {
		if c == conn {
			delete(s.conns, name)
			metrics.ConnectionsActive.Dec()
		}
	}
}
