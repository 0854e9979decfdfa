package node

import (
	"github.com/gopherlang/ernode/dist"
	"github.com/gopherlang/ernode/term"
)

// link implements spec.md §4.C.3's link/2: a symmetric entry in both
// processes' link lists when local, or a LINK control message to the peer
// when remote.
func (s *registrarState) link(a, b term.Pid) {
	if string(b.Node) != "" && string(b.Node) != s.node.FullName {
		// remote peer: send {1, Self, Peer}.
		conn, err := s.connect(string(b.Node))
		if err != nil {
			s.node.Logger.Warn().Err(err).Msg("node: link: connect failed")
			return
		}
		if err := conn.Send(dist.LinkControl(a, b), nil); err != nil {
			s.node.Logger.Warn().Err(err).Msg("node: link: send failed")
		}
		if pa, ok := s.processes[a]; ok {
			pa.links[b] = &linkEntry{peer: b, remote: true}
		}
		return
	}
	pa, aok := s.processes[a]
	pb, bok := s.processes[b]
	if !aok || !bok {
		return
	}
	if _, exists := pa.links[b]; !exists {
		pa.links[b] = &linkEntry{peer: b}
	}
	if _, exists := pb.links[a]; !exists {
		pb.links[a] = &linkEntry{peer: a}
	}
}

// unlink implements spec.md §4.C.3's unlink/2: local unlinks remove both
// sides immediately; remote unlinks mark an outstanding unlink-id and wait
// for UNLINK_ID_ACC before fully removing the entry.
func (s *registrarState) unlink(from, to term.Pid) {
	if string(to.Node) != "" && string(to.Node) != s.node.FullName {
		p, ok := s.processes[from]
		if !ok {
			return
		}
		entry, exists := p.links[to]
		if !exists || entry.outstandingUnlink != nil {
			return
		}
		id := newUnlinkIDFor(s)
		entry.outstandingUnlink = &id
		conn, err := s.connect(string(to.Node))
		if err != nil {
			s.node.Logger.Warn().Err(err).Msg("node: unlink: connect failed")
			return
		}
		if err := conn.Send(dist.UnlinkIDControl(id, from, to), nil); err != nil {
			s.node.Logger.Warn().Err(err).Msg("node: unlink: send failed")
		}
		return
	}
	if pa, ok := s.processes[from]; ok {
		delete(pa.links, to)
	}
	if pb, ok := s.processes[to]; ok {
		delete(pb.links, from)
	}
}

// newUnlinkIDFor is a small indirection so tests can deal with deterministic
// ids if ever needed; production path just calls the dist package's
// generator.
func newUnlinkIDFor(*registrarState) uint64 {
	return dist.NewUnlinkID()
}

// exit implements the case table of spec.md §4.C.3.
func (s *registrarState) exit(pid term.Pid, reason term.Term, linkOriginated bool, from term.Pid) {
	if string(pid.Node) != "" && string(pid.Node) != s.node.FullName {
		conn, err := s.connect(string(pid.Node))
		if err != nil {
			s.node.Logger.Warn().Err(err).Msg("node: exit: connect failed")
			return
		}
		var ctl term.Tuple
		if linkOriginated {
			ctl = dist.ExitControl(from, pid, reason)
		} else {
			ctl = dist.Exit2Control(from, pid, reason)
		}
		if err := conn.Send(ctl, nil); err != nil {
			s.node.Logger.Warn().Err(err).Msg("node: exit: send failed")
		}
		return
	}

	if a, ok := reason.(term.Atom); ok && a == "normal" && pid != from {
		return // reason=normal is not propagated to a different target.
	}

	if pid == (term.Pid{}) {
		// the "main"/driver pseudo-process (spec.md §4.C.3's last three
		// rows): no process-table entry represents it.
		if a, ok := reason.(term.Atom); ok {
			switch {
			case a == "normal":
				return // abort quietly
			case a == "kill" && !linkOriginated:
				s.node.Logger.Warn().Msg("node: main process killed, shutting down host")
				for p := range s.processes {
					s.terminate(p, term.Atom("killed"))
				}
				return
			}
		}
		s.node.Logger.Info().Msg("node: exit signal delivered to main, continuing")
		return
	}

	p, ok := s.processes[pid]
	if !ok {
		return // unknown target: no-op.
	}
	if entry, exists := p.links[from]; exists && entry.outstandingUnlink != nil {
		return // link already torn down: ignore stray signal.
	}
	s.terminate(pid, reason)
}
