package node

import (
	"context"
	"fmt"
	"time"

	"github.com/gopherlang/ernode/config"
	"github.com/gopherlang/ernode/dist"
	"github.com/gopherlang/ernode/epmd"
	"github.com/gopherlang/ernode/internal/metrics"
	"github.com/gopherlang/ernode/term"
)

// registrarState is the single-threaded owner of the process table,
// registry, and connection map (spec.md §3's "Process table" and
// "Connection" records), generalizing ergonode's registrar
// (891091fe_halturin-node__registrar.go) with links/exits/remote routing.
type registrarState struct {
	node *Node

	processes map[term.Pid]*Process
	names     map[string]term.Pid
	conns     map[string]Connector
}

func newRegistrarState(n *Node) *registrarState {
	return &registrarState{
		node:      n,
		processes: make(map[term.Pid]*Process),
		names:     make(map[string]term.Pid),
		conns:     make(map[string]Connector),
	}
}

// Spawn starts a new process running body and returns its PID. SpawnLink
// does the same and also links the spawning pid (from) to it atomically
// (spawn_link, spec.md §4.C).
func (n *Node) Spawn(body func(*Context)) term.Pid {
	return n.spawnInternal(body, false, term.Pid{})
}

func (n *Node) SpawnLink(from term.Pid, body func(*Context)) term.Pid {
	return n.spawnInternal(body, true, from)
}

func (n *Node) spawnInternal(body func(*Context), link bool, from term.Pid) term.Pid {
	pid := n.allocatePID()
	proc := &Process{
		pid:     pid,
		node:    n,
		mailbox: make(chan Envelope, 128),
		links:   make(map[term.Pid]*linkEntry),
		done:    make(chan struct{}),
		killSig: make(chan struct{}),
	}

	n.call(func(s *registrarState) {
		s.processes[pid] = proc
		metrics.ProcessesSpawned.Inc()
		metrics.ProcessesActive.Inc()
		if link {
			s.link(from, pid)
		}
	})

	go func() {
		reason := term.Term(term.Atom("normal"))
		defer func() {
			if r := recover(); r != nil {
				reason = term.Tuple{term.Atom("error"), term.Atom(fmt.Sprint(r))}
			}
			n.call(func(s *registrarState) {
				s.terminate(pid, reason)
			})
			close(proc.done)
		}()
		body(&Context{node: n, proc: proc})
	}()

	return pid
}

// Register associates name with pid (register/2; nil pid unregisters).
func (n *Node) Register(name string, pid term.Pid) {
	n.call(func(s *registrarState) { s.registerName(name, pid) })
}

func (n *Node) Whereis(name string) (term.Pid, bool) {
	var pid term.Pid
	var ok bool
	n.call(func(s *registrarState) { pid, ok = s.names[name] })
	return pid, ok
}

// Send is the public entry point for sending from outside any process body
// (e.g. from package rpc). from may be the zero Pid if there is no sender.
func (n *Node) Send(from term.Term, dest term.Term, msg term.Term) {
	n.call(func(s *registrarState) { s.send(from, dest, msg) })
}

// Exit is the public entry point for killing a process from outside any
// process body (e.g. package rpc's call/timeout wrapper terminating a
// worker whose reply never arrived in time; spec.md §4.E).
func (n *Node) Exit(pid term.Pid, reason term.Term) {
	n.call(func(s *registrarState) { s.exit(pid, reason, false, term.Pid{}) })
}

func (s *registrarState) registerName(name string, pid term.Pid) {
	if pid == (term.Pid{}) {
		for k, v := range s.names {
			if v == pid {
				delete(s.names, k)
			}
		}
		delete(s.names, name)
		return
	}
	if _, exists := s.names[name]; exists {
		return // already registered; silently ignored like the source registrar
	}
	s.names[name] = pid
	if p, ok := s.processes[pid]; ok {
		p.name = name
	}
}

// send implements spec.md §4.D's outbound routing table.
func (s *registrarState) send(from term.Term, dest term.Term, msg term.Term) {
	switch d := dest.(type) {
	case term.Pid:
		if d.IsLocal() || string(d.Node) == s.node.FullName {
			s.deliverLocal(d, from, msg)
			return
		}
		s.sendRemotePid(from, d, msg)

	case term.Atom:
		if pid, ok := s.names[string(d)]; ok {
			s.deliverLocal(pid, from, msg)
		}
		// unknown name: silently dropped (spec.md §7 Runtime errors).

	case term.Tuple:
		if len(d) != 2 {
			return
		}
		name, nameOK := d[0].(term.Atom)
		nodeName, nodeOK := d[1].(term.Atom)
		if !nameOK || !nodeOK {
			return
		}
		if string(nodeName) == s.node.FullName || nodeName == "" {
			if pid, ok := s.names[string(name)]; ok {
				s.deliverLocal(pid, from, msg)
			}
			return
		}
		s.sendRegSend(from, string(nodeName), string(name), msg)

	default:
		// unsupported destination shape: dropped.
	}
}

func (s *registrarState) deliverLocal(pid term.Pid, from term.Term, msg term.Term) {
	if string(pid.Node) == s.node.FullName {
		// this node's own pids travel with its name and creation; the
		// process table keys them elided (empty node, zero creation).
		pid.Node, pid.Creation = "", 0
	}
	p, ok := s.processes[pid]
	if !ok {
		return // unknown pid: silently dropped.
	}
	select {
	case p.mailbox <- Envelope{From: from, Msg: msg}:
		metrics.MessagesDelivered.Inc()
	default:
		s.node.Logger.Warn().Msg("node: mailbox full, dropping message")
	}
}

func (s *registrarState) sendRemotePid(from term.Term, to term.Pid, msg term.Term) {
	conn, err := s.connect(string(to.Node))
	if err != nil {
		s.node.Logger.Warn().Err(err).Str("node", string(to.Node)).Msg("node: could not connect to send")
		return
	}
	fromPid, _ := from.(term.Pid)
	if err := conn.Send(dist.SendSenderControl(fromPid, to), msg); err != nil {
		s.node.Logger.Warn().Err(err).Msg("node: send to remote pid failed")
	}
}

func (s *registrarState) sendRegSend(from term.Term, nodeName, name string, msg term.Term) {
	conn, err := s.connect(nodeName)
	if err != nil {
		s.node.Logger.Warn().Err(err).Str("node", nodeName).Msg("node: could not connect to send")
		return
	}
	fromPid, _ := from.(term.Pid)
	if err := conn.Send(dist.RegSendControl(fromPid, term.Atom(name)), msg); err != nil {
		s.node.Logger.Warn().Err(err).Msg("node: reg_send to remote failed")
	}
}

// connect finds or establishes a connection to nodeName, blocking until the
// handshake completes or fails (spec.md §4.D: "the call blocks the caller
// until handshake completes"). It runs inside the registrar goroutine, so
// this also blocks other processes' registrar requests for the duration —
// matching spec.md §5's single-threaded-executor model, where step 3 of the
// scheduler description explicitly waits on external (I/O) events.
func (s *registrarState) connect(nodeName string) (Connector, error) {
	if conn, ok := s.conns[nodeName]; ok {
		return conn, nil
	}

	short, host, err := config.SplitNodeName(nodeName)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	port, err := epmd.LookupPort(ctx, host, short)
	if err != nil {
		return nil, fmt.Errorf("node: epmd lookup %s: %w", nodeName, err)
	}

	conn, err := dist.Dial(ctx, host, port, s.node.FullName, s.node.Cookie, s.node.Creation, (*nodeRouter)(s.node), s.node.Logger)
	if err != nil {
		return nil, fmt.Errorf("node: dial %s: %w", nodeName, err)
	}
	s.conns[nodeName] = conn
	metrics.ConnectionsActive.Inc()
	return conn, nil
}

// RegisterConnection adopts an already-handshaken inbound Connection
// (accepted by a listener outside this package) into the node's connection
// map, so sends to its peer reuse it instead of dialing out again.
func (n *Node) RegisterConnection(conn Connector) {
	n.call(func(s *registrarState) {
		s.conns[conn.PeerName()] = conn
		metrics.ConnectionsActive.Inc()
	})
}

// terminate removes pid from the process table (exactly once, before
// notifying its linked peers — spec.md §4.C.3's cycle-safety note) and
// propagates an exit signal with reason to every linked peer.
func (s *registrarState) terminate(pid term.Pid, reason term.Term) {
	p, ok := s.processes[pid]
	if !ok || p.killed {
		return
	}
	p.killed = true
	close(p.killSig)
	delete(s.processes, pid)
	if p.name != "" {
		delete(s.names, p.name)
	}
	metrics.ProcessesActive.Dec()

	propagated := reason
	if a, ok := reason.(term.Atom); ok && a == "kill" {
		propagated = term.Atom("killed")
	}
	for peer, link := range p.links {
		if link.outstandingUnlink != nil {
			continue // torn down already; see spec.md §3's Link record note.
		}
		s.exit(peer, propagated, true, pid)
	}
}

