package term

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"

	"github.com/klauspost/compress/zlib"
)

// Wire tags, from spec.md's tag table.
const (
	tagVersion = 131
	tagCompressed = 80

	tagSmallInteger   = 97
	tagInteger        = 98
	tagSmallBig       = 110
	tagLargeBig       = 111
	tagNewFloat       = 70
	tagSmallAtomUTF8  = 119
	tagAtomUTF8       = 118
	tagSmallTuple     = 104
	tagLargeTuple     = 105
	tagNil            = 106
	tagString         = 107
	tagList           = 108
	tagBinary         = 109
	tagMap            = 116
	tagNewPid         = 88
	tagNewerReference = 90
)

// Errors returned by Decode.
var (
	ErrUnknownTag   = errors.New("term: unknown tag")
	ErrBadVersion   = errors.New("term: bad version byte")
	ErrTruncated    = errors.New("term: truncated input")
	ErrDecompress   = errors.New("term: decompression failed")
)

// Encode writes the version-prefixed wire representation of t to w. identity
// is the (name, creation) used to fill in a locally-elided Pid/Reference
// node field; it may be nil if t is known not to contain any Pid/Reference.
func Encode(w io.Writer, t Term, identity *Identity) error {
	var buf bytes.Buffer
	buf.WriteByte(tagVersion)
	e := &encoder{w: &buf, identity: identity}
	if err := e.encode(t); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// EncodeToBytes is a convenience wrapper around Encode.
func EncodeToBytes(t Term, identity *Identity) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, t, identity); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type encoder struct {
	w        *bytes.Buffer
	identity *Identity
}

func (e *encoder) encode(t Term) error {
	switch v := t.(type) {
	case Integer:
		return e.encodeInteger(v)
	case Float:
		return e.encodeFloat(v)
	case Atom:
		return e.encodeAtom(v)
	case Tuple:
		return e.encodeTuple(v)
	case List:
		return e.encodeList(v)
	case ImproperList:
		return e.encodeImproperList(v)
	case Binary:
		return e.encodeBinary(v)
	case Map:
		return e.encodeMap(v)
	case Pid:
		return e.encodePid(v)
	case Reference:
		return e.encodeReference(v)
	case nil:
		return fmt.Errorf("term: cannot encode nil term")
	default:
		return fmt.Errorf("term: cannot encode %T", t)
	}
}

func (e *encoder) encodeInteger(v Integer) error {
	n := v.Int
	if n == nil {
		n = big.NewInt(0)
	}
	if n.Sign() >= 0 && n.Cmp(big.NewInt(255)) <= 0 {
		e.w.WriteByte(tagSmallInteger)
		e.w.WriteByte(byte(n.Int64()))
		return nil
	}
	if n.Cmp(big.NewInt(math.MinInt32)) >= 0 && n.Cmp(big.NewInt(math.MaxInt32)) <= 0 {
		e.w.WriteByte(tagInteger)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(int32(n.Int64())))
		e.w.Write(b[:])
		return nil
	}

	sign := byte(0)
	mag := new(big.Int).Abs(n)
	if n.Sign() < 0 {
		sign = 1
	}
	be := mag.Bytes()
	le := make([]byte, len(be))
	for i, b := range be {
		le[len(be)-1-i] = b
	}
	if len(le) <= 255 {
		e.w.WriteByte(tagSmallBig)
		e.w.WriteByte(byte(len(le)))
		e.w.WriteByte(sign)
		e.w.Write(le)
		return nil
	}
	e.w.WriteByte(tagLargeBig)
	var lb [4]byte
	binary.BigEndian.PutUint32(lb[:], uint32(len(le)))
	e.w.Write(lb[:])
	e.w.WriteByte(sign)
	e.w.Write(le)
	return nil
}

func (e *encoder) encodeFloat(v Float) error {
	e.w.WriteByte(tagNewFloat)
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(float64(v)))
	e.w.Write(b[:])
	return nil
}

func (e *encoder) encodeAtom(v Atom) error {
	b := []byte(v)
	if len(b) <= 255 {
		e.w.WriteByte(tagSmallAtomUTF8)
		e.w.WriteByte(byte(len(b)))
		e.w.Write(b)
		return nil
	}
	e.w.WriteByte(tagAtomUTF8)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(b)))
	e.w.Write(l[:])
	e.w.Write(b)
	return nil
}

func (e *encoder) encodeTuple(v Tuple) error {
	if len(v) <= 255 {
		e.w.WriteByte(tagSmallTuple)
		e.w.WriteByte(byte(len(v)))
	} else {
		e.w.WriteByte(tagLargeTuple)
		var l [4]byte
		binary.BigEndian.PutUint32(l[:], uint32(len(v)))
		e.w.Write(l[:])
	}
	for _, el := range v {
		if err := e.encode(el); err != nil {
			return err
		}
	}
	return nil
}

func (e *encoder) encodeList(v List) error {
	if len(v) == 0 {
		e.w.WriteByte(tagNil)
		return nil
	}
	e.w.WriteByte(tagList)
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(v)))
	e.w.Write(l[:])
	for _, el := range v {
		if err := e.encode(el); err != nil {
			return err
		}
	}
	e.w.WriteByte(tagNil)
	return nil
}

func (e *encoder) encodeImproperList(v ImproperList) error {
	if len(v.Elements) == 0 {
		return e.encode(v.Tail)
	}
	e.w.WriteByte(tagList)
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(v.Elements)))
	e.w.Write(l[:])
	for _, el := range v.Elements {
		if err := e.encode(el); err != nil {
			return err
		}
	}
	return e.encode(v.Tail)
}

func (e *encoder) encodeBinary(v Binary) error {
	e.w.WriteByte(tagBinary)
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(v)))
	e.w.Write(l[:])
	e.w.Write(v)
	return nil
}

func (e *encoder) encodeMap(v Map) error {
	e.w.WriteByte(tagMap)
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(v)))
	e.w.Write(l[:])
	for _, p := range v {
		if err := e.encode(p.Key); err != nil {
			return err
		}
		if err := e.encode(p.Value); err != nil {
			return err
		}
	}
	return nil
}

// resolveIdentity fills in the connection/node identity for a locally-elided
// node field, per spec.md §4.A's "PID/Ref elision" rule.
func (e *encoder) resolveIdentity() (Atom, uint32) {
	if e.identity == nil {
		return "", 0
	}
	return e.identity.Name, e.identity.Creation
}

func (e *encoder) encodePid(v Pid) error {
	node, creation := v.Node, v.Creation
	if v.IsLocal() {
		node, creation = e.resolveIdentity()
	}
	e.w.WriteByte(tagNewPid)
	if err := e.encodeAtom(node); err != nil {
		return err
	}
	var b [12]byte
	binary.BigEndian.PutUint32(b[0:4], v.ID)
	binary.BigEndian.PutUint32(b[4:8], v.Serial)
	binary.BigEndian.PutUint32(b[8:12], creation)
	e.w.Write(b[:])
	return nil
}

func (e *encoder) encodeReference(v Reference) error {
	node, creation := v.Node, v.Creation
	if v.IsLocal() {
		node, creation = e.resolveIdentity()
	}
	e.w.WriteByte(tagNewerReference)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(v.ID)))
	e.w.Write(l[:])
	if err := e.encodeAtom(node); err != nil {
		return err
	}
	var c [4]byte
	binary.BigEndian.PutUint32(c[:], creation)
	e.w.Write(c[:])
	for _, half := range v.ID {
		var h [4]byte
		binary.BigEndian.PutUint32(h[:], half)
		e.w.Write(h[:])
	}
	return nil
}

// Decode reads one version-prefixed term from r. peer is the identity of
// the connection this term arrived on (or was produced internally for),
// used to elide a Pid/Reference node field back to ⊥ when it matches. peer
// may be nil if the caller doesn't care about elision (e.g. decoding a
// standalone buffer in a test).
func Decode(r io.Reader, peer *Identity) (Term, error) {
	br := &byteReader{r: r}
	tag, err := br.readByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading version byte", ErrTruncated)
	}
	if tag == tagCompressed {
		return decodeCompressed(br, peer)
	}
	if tag != tagVersion {
		return nil, fmt.Errorf("%w: got %d", ErrBadVersion, tag)
	}
	d := &decoder{r: br, peer: peer}
	return d.decode()
}

func decodeCompressed(br *byteReader, peer *Identity) (Term, error) {
	var lb [4]byte
	if _, err := io.ReadFull(br.r, lb[:]); err != nil {
		return nil, fmt.Errorf("%w: reading uncompressed size", ErrTruncated)
	}
	size := binary.BigEndian.Uint32(lb[:])

	rest, err := io.ReadAll(br.r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading compressed payload", ErrTruncated)
	}
	zr, err := zlib.NewReader(bytes.NewReader(rest))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}
	defer zr.Close()

	inflated := make([]byte, size)
	if _, err := io.ReadFull(zr, inflated); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
	}

	inner := &byteReader{r: bytes.NewReader(inflated)}
	tag, err := inner.readByte()
	if err != nil {
		return nil, fmt.Errorf("%w: empty compressed body", ErrTruncated)
	}
	if tag != tagVersion {
		return nil, fmt.Errorf("%w: got %d", ErrBadVersion, tag)
	}
	d := &decoder{r: inner, peer: peer}
	return d.decode()
}

// byteReader adapts io.Reader with a small peek-free read-one-byte helper.
type byteReader struct {
	r io.Reader
}

func (b *byteReader) readByte() (byte, error) {
	var buf [1]byte
	if _, err := io.ReadFull(b.r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

func (b *byteReader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if n == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(b.r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type decoder struct {
	r    *byteReader
	peer *Identity
}

func (d *decoder) decode() (Term, error) {
	tag, err := d.r.readByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading tag", ErrTruncated)
	}
	switch tag {
	case tagSmallInteger:
		b, err := d.r.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: small integer", ErrTruncated)
		}
		return Int(int64(b)), nil
	case tagInteger:
		b, err := d.r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: integer", ErrTruncated)
		}
		return Int(int64(int32(binary.BigEndian.Uint32(b)))), nil
	case tagSmallBig:
		return d.decodeBig(false)
	case tagLargeBig:
		return d.decodeBig(true)
	case tagNewFloat:
		b, err := d.r.readN(8)
		if err != nil {
			return nil, fmt.Errorf("%w: float", ErrTruncated)
		}
		return Float(math.Float64frombits(binary.BigEndian.Uint64(b))), nil
	case tagSmallAtomUTF8:
		n, err := d.r.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: small atom length", ErrTruncated)
		}
		b, err := d.r.readN(int(n))
		if err != nil {
			return nil, fmt.Errorf("%w: small atom body", ErrTruncated)
		}
		return Atom(b), nil
	case tagAtomUTF8:
		lb, err := d.r.readN(2)
		if err != nil {
			return nil, fmt.Errorf("%w: atom length", ErrTruncated)
		}
		n := binary.BigEndian.Uint16(lb)
		b, err := d.r.readN(int(n))
		if err != nil {
			return nil, fmt.Errorf("%w: atom body", ErrTruncated)
		}
		return Atom(b), nil
	case tagSmallTuple:
		n, err := d.r.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: small tuple arity", ErrTruncated)
		}
		return d.decodeTuple(int(n))
	case tagLargeTuple:
		lb, err := d.r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: large tuple arity", ErrTruncated)
		}
		return d.decodeTuple(int(binary.BigEndian.Uint32(lb)))
	case tagNil:
		return Nil, nil
	case tagString:
		lb, err := d.r.readN(2)
		if err != nil {
			return nil, fmt.Errorf("%w: string length", ErrTruncated)
		}
		n := binary.BigEndian.Uint16(lb)
		b, err := d.r.readN(int(n))
		if err != nil {
			return nil, fmt.Errorf("%w: string body", ErrTruncated)
		}
		elems := make(List, len(b))
		for i, by := range b {
			elems[i] = Int(int64(by))
		}
		return elems, nil
	case tagList:
		lb, err := d.r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: list length", ErrTruncated)
		}
		n := int(binary.BigEndian.Uint32(lb))
		elems := make([]Term, n)
		for i := 0; i < n; i++ {
			t, err := d.decode()
			if err != nil {
				return nil, err
			}
			elems[i] = t
		}
		tail, err := d.decode()
		if err != nil {
			return nil, err
		}
		if tailList, ok := tail.(List); ok && len(tailList) == 0 {
			return List(elems), nil
		}
		return ImproperList{Elements: elems, Tail: tail}, nil
	case tagBinary:
		lb, err := d.r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: binary length", ErrTruncated)
		}
		n := binary.BigEndian.Uint32(lb)
		b, err := d.r.readN(int(n))
		if err != nil {
			return nil, fmt.Errorf("%w: binary body", ErrTruncated)
		}
		return Binary(b), nil
	case tagMap:
		lb, err := d.r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: map arity", ErrTruncated)
		}
		n := int(binary.BigEndian.Uint32(lb))
		m := make(Map, n)
		for i := 0; i < n; i++ {
			k, err := d.decode()
			if err != nil {
				return nil, err
			}
			v, err := d.decode()
			if err != nil {
				return nil, err
			}
			m[i] = MapPair{Key: k, Value: v}
		}
		return m, nil
	case tagNewPid:
		return d.decodePid()
	case tagNewerReference:
		return d.decodeReference()
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownTag, tag)
	}
}

func (d *decoder) decodeTuple(n int) (Term, error) {
	elems := make(Tuple, n)
	for i := 0; i < n; i++ {
		t, err := d.decode()
		if err != nil {
			return nil, err
		}
		elems[i] = t
	}
	return elems, nil
}

func (d *decoder) decodeBig(large bool) (Term, error) {
	var n int
	if large {
		lb, err := d.r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: large big length", ErrTruncated)
		}
		n = int(binary.BigEndian.Uint32(lb))
	} else {
		nb, err := d.r.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: small big length", ErrTruncated)
		}
		n = int(nb)
	}
	sign, err := d.r.readByte()
	if err != nil {
		return nil, fmt.Errorf("%w: big sign", ErrTruncated)
	}
	le, err := d.r.readN(n)
	if err != nil {
		return nil, fmt.Errorf("%w: big magnitude", ErrTruncated)
	}
	be := make([]byte, n)
	for i, b := range le {
		be[n-1-i] = b
	}
	mag := new(big.Int).SetBytes(be)
	if sign != 0 {
		mag.Neg(mag)
	}
	return BigInt(mag), nil
}

// elide rewrites (node, creation) back to ⊥ if it matches the identity of
// the connection this term was decoded on.
func (d *decoder) elide(node Atom, creation uint32) (Atom, uint32) {
	if d.peer != nil && node == d.peer.Name && creation == d.peer.Creation {
		return localNode, 0
	}
	return node, creation
}

func (d *decoder) decodePid() (Term, error) {
	nodeTerm, err := d.decode()
	if err != nil {
		return nil, err
	}
	node, ok := nodeTerm.(Atom)
	if !ok {
		return nil, fmt.Errorf("term: pid node is not an atom")
	}
	b, err := d.r.readN(12)
	if err != nil {
		return nil, fmt.Errorf("%w: pid body", ErrTruncated)
	}
	id := binary.BigEndian.Uint32(b[0:4])
	serial := binary.BigEndian.Uint32(b[4:8])
	creation := binary.BigEndian.Uint32(b[8:12])
	node, creation = d.elide(node, creation)
	return Pid{
		Node:     node,
		ID:       id,
		Serial:   serial,
		Creation: creation,
	}, nil
}

func (d *decoder) decodeReference() (Term, error) {
	lb, err := d.r.readN(2)
	if err != nil {
		return nil, fmt.Errorf("%w: ref length", ErrTruncated)
	}
	length := int(binary.BigEndian.Uint16(lb))

	nodeTerm, err := d.decode()
	if err != nil {
		return nil, err
	}
	node, ok := nodeTerm.(Atom)
	if !ok {
		return nil, fmt.Errorf("term: ref node is not an atom")
	}

	cb, err := d.r.readN(4)
	if err != nil {
		return nil, fmt.Errorf("%w: ref creation", ErrTruncated)
	}
	creation := binary.BigEndian.Uint32(cb)

	ids := make([]uint32, length)
	for i := 0; i < length; i++ {
		hb, err := d.r.readN(4)
		if err != nil {
			return nil, fmt.Errorf("%w: ref id half", ErrTruncated)
		}
		ids[i] = binary.BigEndian.Uint32(hb)
	}
	node, creation = d.elide(node, creation)
	return Reference{
		Node:     node,
		ID:       ids,
		Creation: creation,
	}, nil
}
