package dist

import "github.com/gopherlang/ernode/term"

// Control message discriminators (spec.md §4.D).
const (
	CtlLink         = 1
	CtlExit         = 3
	CtlRegSend      = 6
	CtlExit2        = 8
	CtlSendSender   = 22
	CtlUnlinkID     = 35
	CtlUnlinkIDAcc  = 36
)

// Control is a decoded control tuple plus its optional payload message.
type Control struct {
	Tag     int64
	Tuple   term.Tuple
	Payload term.Term // nil if this control message carries no payload
}

// LinkControl builds {1, From, To}.
func LinkControl(from, to term.Pid) term.Tuple {
	return term.Tuple{term.Int(CtlLink), from, to}
}

// ExitControl builds {3, From, To, Reason} (link-originated exit).
func ExitControl(from, to term.Pid, reason term.Term) term.Tuple {
	return term.Tuple{term.Int(CtlExit), from, to, reason}
}

// Exit2Control builds {8, From, To, Reason} (direct exit/2).
func Exit2Control(from, to term.Pid, reason term.Term) term.Tuple {
	return term.Tuple{term.Int(CtlExit2), from, to, reason}
}

// RegSendControl builds {6, From, Cookie, ToName}.
func RegSendControl(from term.Pid, toName term.Atom) term.Tuple {
	return term.Tuple{term.Int(CtlRegSend), from, term.Atom(""), toName}
}

// SendSenderControl builds {22, From, To}.
func SendSenderControl(from, to term.Pid) term.Tuple {
	return term.Tuple{term.Int(CtlSendSender), from, to}
}

// UnlinkIDControl builds {35, Id, From, To}.
func UnlinkIDControl(id uint64, from, to term.Pid) term.Tuple {
	return term.Tuple{term.Int(CtlUnlinkID), term.Int(int64(id)), from, to}
}

// UnlinkIDAccControl builds {36, Id, From, To}.
func UnlinkIDAccControl(id uint64, from, to term.Pid) term.Tuple {
	return term.Tuple{term.Int(CtlUnlinkIDAcc), term.Int(int64(id)), from, to}
}

// parseControl decodes a raw control tuple into a Control, extracting its
// integer discriminator. Unknown shapes return Tag == -1, which callers
// should log and drop (spec.md §7: "unknown control tag → warn and drop").
func parseControl(t term.Term, payload term.Term) Control {
	tup, ok := t.(term.Tuple)
	if !ok || len(tup) == 0 {
		return Control{Tag: -1, Payload: payload}
	}
	tagInt, ok := tup[0].(term.Integer)
	if !ok {
		return Control{Tag: -1, Tuple: tup, Payload: payload}
	}
	return Control{Tag: tagInt.Int64(), Tuple: tup, Payload: payload}
}
