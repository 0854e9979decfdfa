package term

import (
	"bytes"
	"math"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func roundTrip(t *testing.T, v Term, identity *Identity) Term {
	t.Helper()
	b, err := EncodeToBytes(v, identity)
	require.NoError(t, err)
	got, err := Decode(bytes.NewReader(b), identity)
	require.NoError(t, err)
	return got
}

func TestRoundTripIntegers(t *testing.T) {
	cases := []int64{0, 1, 255, 256, -1, math.MinInt32, math.MaxInt32, -1000}
	for _, c := range cases {
		got := roundTrip(t, Int(c), nil)
		gi, ok := got.(Integer)
		require.True(t, ok)
		require.Equal(t, c, gi.Int64())
	}
}

func TestRoundTripBigInt(t *testing.T) {
	huge := new(big.Int).Lsh(big.NewInt(1), 300)
	got := roundTrip(t, BigInt(huge), nil)
	gi, ok := got.(Integer)
	require.True(t, ok)
	require.Equal(t, 0, huge.Cmp(gi.Int))

	negHuge := new(big.Int).Neg(huge)
	got = roundTrip(t, BigInt(negHuge), nil)
	gi, ok = got.(Integer)
	require.True(t, ok)
	require.Equal(t, 0, negHuge.Cmp(gi.Int))
}

func TestTagMinimality(t *testing.T) {
	b, err := EncodeToBytes(Int(255), nil)
	require.NoError(t, err)
	require.Equal(t, []byte{tagVersion, tagSmallInteger, 255}, b)

	b, err = EncodeToBytes(Int(256), nil)
	require.NoError(t, err)
	require.Equal(t, byte(tagInteger), b[1])

	b, err = EncodeToBytes(Int(-1), nil)
	require.NoError(t, err)
	require.Equal(t, []byte{tagVersion, tagInteger, 0xFF, 0xFF, 0xFF, 0xFF}, b)

	b, err = EncodeToBytes(Int(math.MinInt32), nil)
	require.NoError(t, err)
	require.Equal(t, []byte{tagVersion, tagInteger, 0x80, 0x00, 0x00, 0x00}, b)

	big1 := new(big.Int).Lsh(big.NewInt(1), 40)
	b, err = EncodeToBytes(BigInt(big1), nil)
	require.NoError(t, err)
	require.Equal(t, byte(tagSmallBig), b[1])
}

func TestRoundTripFloats(t *testing.T) {
	for _, f := range []float64{0, math.Copysign(0, -1), 1.5, -1.5, math.Inf(1), math.Inf(-1)} {
		got := roundTrip(t, Float(f), nil)
		gf, ok := got.(Float)
		require.True(t, ok)
		require.Equal(t, f, float64(gf))
		require.Equal(t, math.Signbit(f), math.Signbit(float64(gf)))
	}

	got := roundTrip(t, Float(math.NaN()), nil)
	gf, ok := got.(Float)
	require.True(t, ok)
	require.True(t, math.IsNaN(float64(gf)))
}

func TestRoundTripAtoms(t *testing.T) {
	for _, a := range []Atom{"", "ok", "rex", "héllo_世界"} {
		got := roundTrip(t, a, nil)
		require.Equal(t, a, got)
	}
}

func TestRoundTripTuplesAndLists(t *testing.T) {
	tup := Tuple{Int(1), Atom("x"), List{Int(1), Int(2)}}
	got := roundTrip(t, tup, nil)
	require.Equal(t, tup, got)

	require.Equal(t, Nil, roundTrip(t, Nil, nil))

	improper := ImproperList{Elements: []Term{Int(1), Int(2)}, Tail: Int(3)}
	got = roundTrip(t, improper, nil)
	require.Equal(t, improper, got)
}

func TestRoundTripBinaryAndMap(t *testing.T) {
	bin := Binary("hej")
	got := roundTrip(t, bin, nil)
	require.Equal(t, bin, got)

	m := Map{
		{Key: Atom("a"), Value: Int(1)},
		{Key: Int(2), Value: Binary("b")},
	}
	got = roundTrip(t, m, nil)
	require.Equal(t, m, got)
}

func TestRoundTripPidElision(t *testing.T) {
	id := &Identity{Name: "node1@host", Creation: 7}

	local := Pid{ID: 10, Serial: 0}
	got := roundTrip(t, local, id)
	require.Equal(t, local, got)

	remote := Pid{Node: "node2@host", ID: 3, Serial: 1, Creation: 9}
	got = roundTrip(t, remote, id)
	require.Equal(t, remote, got)
}

func TestRoundTripReferences(t *testing.T) {
	id := &Identity{Name: "node1@host", Creation: 7}
	for n := 1; n <= 5; n++ {
		ids := make([]uint32, n)
		for i := range ids {
			ids[i] = uint32(i + 1)
		}
		ref := Reference{ID: ids}
		got := roundTrip(t, ref, id)
		require.Equal(t, ref, got)
	}
}

func TestDecodeLiterals(t *testing.T) {
	got, err := Decode(bytes.NewReader([]byte{131, 97, 0xFF}), nil)
	require.NoError(t, err)
	require.Equal(t, int64(255), got.(Integer).Int64())

	got, err = Decode(bytes.NewReader([]byte{131, 98, 0xFF, 0xFF, 0xFC, 0x18}), nil)
	require.NoError(t, err)
	require.Equal(t, int64(-1000), got.(Integer).Int64())

	got, err = Decode(bytes.NewReader([]byte{131, 98, 0xFF, 0xFF, 0xFF, 0xFF}), nil)
	require.NoError(t, err)
	require.Equal(t, int64(-1), got.(Integer).Int64())

	got, err = Decode(bytes.NewReader([]byte{131, 104, 3, 97, 1, 97, 2, 97, 3}), nil)
	require.NoError(t, err)
	require.Equal(t, Tuple{Int(1), Int(2), Int(3)}, got)

	got, err = Decode(bytes.NewReader([]byte{131, 106}), nil)
	require.NoError(t, err)
	require.Equal(t, Nil, got)
}

func TestDecodeErrors(t *testing.T) {
	_, err := Decode(bytes.NewReader([]byte{42}), nil)
	require.ErrorIs(t, err, ErrBadVersion)

	_, err = Decode(bytes.NewReader([]byte{131, 254}), nil)
	require.ErrorIs(t, err, ErrUnknownTag)

	_, err = Decode(bytes.NewReader([]byte{131, 97}), nil)
	require.ErrorIs(t, err, ErrTruncated)

	_, err = Decode(bytes.NewReader([]byte{}), nil)
	require.ErrorIs(t, err, ErrTruncated)
}
