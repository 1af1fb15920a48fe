package ubifs

import "testing"

func TestCalcDarkWatermarkRules(t *testing.T) {
	cfg, err := NewConfig(WithMinIOSize(512), WithLEBSize(4096), WithMaxLEBCount(64), WithSourceRoot("."))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}

	if got := calcDark(cfg, cfg.darkWM-1); got != cfg.darkWM-1 {
		t.Fatalf("calcDark below dark_wm should return spc unchanged, got %d", got)
	}

	spcExact := cfg.darkWM
	if got := calcDark(cfg, spcExact); got != spcExact-minWriteSize {
		t.Fatalf("calcDark at dark_wm exactly should return spc-minWriteSize (%d), got %d", spcExact-minWriteSize, got)
	}

	spcJustOver := cfg.darkWM + minWriteSize - 1
	want := spcJustOver - minWriteSize
	if got := calcDark(cfg, spcJustOver); got != want {
		t.Fatalf("calcDark just over dark_wm = %d, want %d", got, want)
	}
}

func TestSetLpropsAccumulatesStats(t *testing.T) {
	cfg, err := NewConfig(WithMinIOSize(512), WithLEBSize(4096), WithMaxLEBCount(64), WithSourceRoot("."))
	if err != nil {
		t.Fatalf("NewConfig: %v", err)
	}
	lp := newLpropsTable(cfg)

	lp.setLprops(cfg.mainFirst, 0, cfg.LEBSize, 0)
	if lp.stats.EmptyLebs != 1 {
		t.Fatalf("EmptyLebs = %d, want 1 after an unused leb", lp.stats.EmptyLebs)
	}

	lp.setLprops(cfg.mainFirst+1, 1024, cfg.LEBSize, 0)
	if lp.stats.EmptyLebs != 1 {
		t.Fatalf("EmptyLebs should not increase for a used leb")
	}
	if lp.stats.TotalUsed == 0 {
		t.Fatalf("expected non-zero TotalUsed after a used leb")
	}

	lp.setLprops(cfg.mainFirst+2, 512, cfg.LEBSize, LpropsIndex)
	if lp.stats.IdxLebs != 1 {
		t.Fatalf("IdxLebs = %d, want 1 for an INDEX-flagged leb", lp.stats.IdxLebs)
	}
}
