package util

import "testing"

func TestFormatBytes(t *testing.T) {
	testCases := []struct {
		in   float64
		want string
	}{
		{0, " 0.0   B"},
		{99, "99.0   B"},
		{1536, " 1.5 KiB"},
		{100 * 1024, " 0.1 MiB"},
	}

	for _, tc := range testCases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%v): got %q, want %q", tc.in, got, tc.want)
		}
		if got := formatBytes(tc.in); len(got) != 8 {
			t.Errorf("formatBytes(%v): width %d, want 8", tc.in, len(got))
		}
	}
}

func TestStatsCounters(t *testing.T) {
	s := &stats{}
	s.AddSent(520)
	s.AddSent(520)
	s.AddRecv(520)
	s.AddFailed()

	if s.SegsSent.Load() != 2 || s.BytesSent.Load() != 1040 {
		t.Errorf("sent counters: %d segs, %d bytes", s.SegsSent.Load(), s.BytesSent.Load())
	}
	if s.SegsRecv.Load() != 1 || s.BytesRecv.Load() != 520 {
		t.Errorf("recv counters: %d segs, %d bytes", s.SegsRecv.Load(), s.BytesRecv.Load())
	}
	if s.SegsFailed.Load() != 1 {
		t.Errorf("failed counter: %d", s.SegsFailed.Load())
	}
}
