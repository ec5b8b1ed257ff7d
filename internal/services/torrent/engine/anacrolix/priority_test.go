package anacrolix

import "testing"

func TestHeadSpan(t *testing.T) {
	tests := []struct {
		name      string
		offset    int64
		length    int64
		head      int64
		pieceLen  int64
		numPieces int
		want      pieceSpan
		ok        bool
	}{
		{"first file aligned", 0, 1000, 300, 100, 10, pieceSpan{0, 3}, true},
		{"unaligned offset", 150, 1000, 100, 100, 20, pieceSpan{1, 3}, true},
		{"head larger than file", 200, 50, 1000, 100, 10, pieceSpan{2, 3}, true},
		{"zero head means whole file", 0, 250, 0, 100, 10, pieceSpan{0, 3}, true},
		{"clamped to piece count", 0, 1000, 1000, 100, 4, pieceSpan{0, 4}, true},
		{"empty file", 0, 0, 100, 100, 10, pieceSpan{}, false},
		{"no pieces", 0, 100, 100, 100, 0, pieceSpan{}, false},
		{"offset past end", 5000, 100, 100, 100, 10, pieceSpan{}, false},
		{"bad piece length", 0, 100, 100, 0, 10, pieceSpan{}, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := headSpan(tc.offset, tc.length, tc.head, tc.pieceLen, tc.numPieces)
			if ok != tc.ok || got != tc.want {
				t.Fatalf("headSpan = %+v, %v; want %+v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestBufferProgress(t *testing.T) {
	span := pieceSpan{start: 2, end: 6}
	complete := map[int]bool{2: true, 3: true, 5: true, 7: true}

	progress, done := bufferProgress(span, func(i int) bool { return complete[i] })
	if done || progress != 0.75 {
		t.Fatalf("progress = %v, done = %v", progress, done)
	}

	complete[4] = true
	progress, done = bufferProgress(span, func(i int) bool { return complete[i] })
	if !done || progress != 1 {
		t.Fatalf("progress = %v, done = %v", progress, done)
	}

	if _, done := bufferProgress(pieceSpan{}, func(int) bool { return true }); done {
		t.Fatal("empty span is never done")
	}
}

func TestTailPiece(t *testing.T) {
	if got, ok := tailPiece(150, 1000, 100); !ok || got != 11 {
		t.Fatalf("tailPiece = %d, %v", got, ok)
	}
	if _, ok := tailPiece(0, 0, 100); ok {
		t.Fatal("empty file has no tail piece")
	}
}
