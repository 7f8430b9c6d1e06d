package blockdev

import "testing"

func TestGetBufferSizesByBucket(t *testing.T) {
	cases := []struct {
		request uint32
		wantCap int
	}{
		{100, size128k},
		{size128k, size128k},
		{size128k + 1, size256k},
		{size256k, size256k},
		{size512k + 1, size1m},
		{size1m, size1m},
	}
	for _, c := range cases {
		buf := GetBuffer(c.request)
		if len(buf) != int(c.request) {
			t.Fatalf("GetBuffer(%d): len = %d, want %d", c.request, len(buf), c.request)
		}
		if cap(buf) != c.wantCap {
			t.Fatalf("GetBuffer(%d): cap = %d, want %d", c.request, cap(buf), c.wantCap)
		}
		PutBuffer(buf)
	}
}

func TestPutBufferRoundTripKeepsBucketCapacity(t *testing.T) {
	buf := GetBuffer(size256k)
	PutBuffer(buf)

	got := GetBuffer(size256k)
	if cap(got) != size256k {
		t.Fatalf("cap = %d, want %d", cap(got), size256k)
	}
}

func TestPutBufferNonStandardCapacityIsDropped(t *testing.T) {
	// A short tail read that never got resized back up to a bucket size:
	// PutBuffer must not panic on an unrecognized capacity.
	odd := make([]byte, 37)
	PutBuffer(odd)
}
