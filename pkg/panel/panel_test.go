package panel

import "testing"

func TestUnpackSwitches(t *testing.T) {
	tests := []struct {
		name string
		wire [NumBytes]byte
		want []int // switch indices expected true
	}{
		{
			name: "all off",
			wire: [NumBytes]byte{},
			want: nil,
		},
		{
			name: "wire byte 0 bit 0 is switch 32",
			wire: [NumBytes]byte{0x01, 0x00, 0x00, 0x00, 0x00},
			want: []int{32},
		},
		{
			name: "wire byte 4 carries switches 0..7",
			wire: [NumBytes]byte{0x00, 0x00, 0x00, 0x00, 0x81},
			want: []int{0, 7},
		},
		{
			name: "wire byte 3 bit 2 is switch 10",
			wire: [NumBytes]byte{0x00, 0x00, 0x00, 0x04, 0x00},
			want: []int{10},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UnpackSwitches(tt.wire)
			wantSet := make(map[int]bool, len(tt.want))
			for _, n := range tt.want {
				wantSet[n] = true
			}
			for n := 0; n < NumSwitches; n++ {
				if got[n] != wantSet[n] {
					t.Errorf("switch %d = %v, want %v", n, got[n], wantSet[n])
				}
			}
		})
	}
}

func TestPackLedsReversesByteOrder(t *testing.T) {
	var states [NumSwitches]bool
	states[0] = true
	states[7] = true

	wire := PackLeds(states)

	// Switches 0 and 7 pack into logical byte 0 as bits 0 and 7,
	// which must travel as the last wire byte.
	want := [NumBytes]byte{0x00, 0x00, 0x00, 0x00, 0x81}
	if wire != want {
		t.Errorf("PackLeds() = % x, want % x", wire, want)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	var states [NumSwitches]bool
	for _, n := range []int{0, 3, 8, 15, 16, 31, 32, 36} {
		states[n] = true
	}
	if got := UnpackSwitches(PackLeds(states)); got != states {
		t.Errorf("round trip mismatch:\n got %v\nwant %v", got, states)
	}
}

func TestLedCache(t *testing.T) {
	var c LedCache

	if c.Dirty() {
		t.Error("new cache Dirty() = true, want false")
	}
	if c.Set(NumSwitches, true) {
		t.Error("Set(out of range) = true, want false")
	}
	if c.Dirty() {
		t.Error("out-of-range Set marked cache dirty")
	}

	if !c.Set(5, true) {
		t.Error("Set(5, true) = false, want true")
	}
	if !c.Dirty() {
		t.Error("Dirty() = false after Set, want true")
	}

	wire := c.Snapshot()
	if c.Dirty() {
		t.Error("Dirty() = true after Snapshot, want false")
	}
	if got := UnpackSwitches(wire); !got[5] || got[4] {
		t.Errorf("snapshot state wrong: %v", got)
	}

	// Setting the same value again does not dirty the cache.
	c.Set(5, true)
	if c.Dirty() {
		t.Error("idempotent Set marked cache dirty")
	}

	c.SetAll(true)
	if !c.Dirty() {
		t.Error("SetAll did not mark cache dirty")
	}
	all := UnpackSwitches(c.Snapshot())
	for n := 0; n < NumSwitches; n++ {
		if !all[n] {
			t.Fatalf("switch %d LED off after SetAll(true)", n)
		}
	}
}
