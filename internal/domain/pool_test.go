package domain

import (
	"errors"
	"testing"
)

func TestAssetFormat(t *testing.T) {
	tests := []struct {
		asset  Asset
		amount int64
		want   string
	}{
		{AssetGAS, 1_5000_0000, "1.5"},
		{AssetGAS, 1, "0.00000001"},
		{AssetGAS, 0, "0"},
		{AssetNEO, 19_940, "19940"},
	}
	for _, tt := range tests {
		if got := tt.asset.Format(tt.amount); got != tt.want {
			t.Errorf("%s.Format(%d) = %q, want %q", tt.asset, tt.amount, got, tt.want)
		}
	}
}

func TestAssetByName(t *testing.T) {
	if a, ok := AssetByName(" gas "); !ok || a != AssetGAS {
		t.Errorf("AssetByName(gas) = %v, %v", a, ok)
	}
	if _, ok := AssetByName("BTC"); ok {
		t.Error("AssetByName(BTC) accepted")
	}
}

func TestParseSelectors(t *testing.T) {
	if _, err := ParseAsset(2); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ParseAsset(2) err = %v", err)
	}
	if _, err := ParseSide(-1); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("ParseSide(-1) err = %v", err)
	}
	if s, err := ParseSide(1); err != nil || s != SideLong {
		t.Errorf("ParseSide(1) = %v, %v", s, err)
	}
}

func TestCloneIsDeep(t *testing.T) {
	cursor := Address{1}
	side := SideLong
	p := Pool{
		Resolution: &Resolution{Value: "1"},
		Settlement: &Settlement{Cursor: &cursor},
		Result:     &side,
	}
	c := p.Clone()
	c.Resolution.Value = "2"
	c.Settlement.Cursor[0] = 9
	*c.Result = SideShort

	if p.Resolution.Value != "1" || p.Settlement.Cursor[0] != 1 || *p.Result != SideLong {
		t.Error("Clone shares state with the original")
	}
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrWindowClosed, "invalid_state"},
		{ErrTransferFailed, "upstream_failure"},
		{ErrOracleNotReady, "not_yet_ready"},
		{errors.New("x"), "internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
