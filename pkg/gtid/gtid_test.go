package gtid

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// TestCompare tests the total order on (epoch, seq)
func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b GTID
		want int
	}{
		{"equal", New(1, 5), New(1, 5), 0},
		{"seq less", New(1, 4), New(1, 5), -1},
		{"seq greater", New(1, 6), New(1, 5), 1},
		{"epoch dominates seq", New(1, 999), New(2, 0), -1},
		{"epoch greater", New(3, 0), New(2, 999), 1},
		{"initial less than anything", Initial(), New(0, 1), -1},
		{"initial equal initial", Initial(), Initial(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compare(tt.a, tt.b)
			if sign(got) != tt.want {
				t.Errorf("Compare(%s, %s) = %d, want sign %d", tt.a, tt.b, got, tt.want)
			}
			// Compare must be antisymmetric
			if sign(Compare(tt.b, tt.a)) != -tt.want {
				t.Errorf("Compare(%s, %s) not antisymmetric", tt.b, tt.a)
			}
		})
	}
}

func sign(n int) int {
	switch {
	case n < 0:
		return -1
	case n > 0:
		return 1
	}
	return 0
}

// TestCompareOrderProperty uses property-based testing to verify the
// total-order laws over arbitrary (epoch, seq) pairs.
func TestCompareOrderProperty(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping property-based test in short mode")
	}

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	genGTID := gopter.CombineGens(gen.UInt64(), gen.UInt64Range(0, math.MaxUint64-1)).Map(
		func(vals []interface{}) GTID {
			return New(vals[0].(uint64), vals[1].(uint64))
		})

	properties.Property("antisymmetric", prop.ForAll(
		func(a, b GTID) bool {
			return sign(Compare(a, b)) == -sign(Compare(b, a))
		},
		genGTID, genGTID,
	))

	properties.Property("reflexive", prop.ForAll(
		func(a GTID) bool {
			return Compare(a, a) == 0
		},
		genGTID,
	))

	properties.Property("transitive", prop.ForAll(
		func(a, b, c GTID) bool {
			if Compare(a, b) <= 0 && Compare(b, c) <= 0 {
				return Compare(a, c) <= 0
			}
			return true
		},
		genGTID, genGTID, genGTID,
	))

	properties.Property("Next compares greater", prop.ForAll(
		func(a GTID) bool {
			return Compare(a, a.Next()) < 0
		},
		genGTID,
	))

	properties.TestingRun(t)
}

func TestIsInitial(t *testing.T) {
	if !Initial().IsInitial() {
		t.Error("Initial() should be initial")
	}
	if New(0, 1).IsInitial() {
		t.Error("0:1 should not be initial")
	}
	if New(1, 0).IsInitial() {
		t.Error("1:0 should not be initial")
	}
}

func TestNext(t *testing.T) {
	g := New(3, 7)
	next := g.Next()
	if next.Epoch != 3 || next.Seq != 8 {
		t.Errorf("Next() = %s, want 3:8", next)
	}
	if Compare(g, next) >= 0 {
		t.Error("Next() must compare greater than its input")
	}
}

func TestString(t *testing.T) {
	if got := New(2, 42).String(); got != "2:42" {
		t.Errorf("String() = %q, want %q", got, "2:42")
	}
	if got := Initial().String(); got != "0:0" {
		t.Errorf("String() = %q, want %q", got, "0:0")
	}
}

func TestBinaryRoundTrip(t *testing.T) {
	orig := New(0xdeadbeef, 0xcafef00d)
	data, err := orig.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}
	if len(data) != 16 {
		t.Fatalf("MarshalBinary returned %d bytes, want 16", len(data))
	}

	var got GTID
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary failed: %v", err)
	}
	if Compare(orig, got) != 0 {
		t.Errorf("round trip changed GTID: %s -> %s", orig, got)
	}
}

func TestUnmarshalBinaryBadLength(t *testing.T) {
	var g GTID
	if err := g.UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Error("UnmarshalBinary should reject short input")
	}
	if err := g.UnmarshalBinary(make([]byte, 17)); err == nil {
		t.Error("UnmarshalBinary should reject long input")
	}
}
