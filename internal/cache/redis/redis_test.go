package redis

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestClientKey(t *testing.T) {
	tests := []struct {
		prefix string
		parts  []string
		want   string
	}{
		{"", []string{"views", "0xab"}, "views:0xab"},
		{"marketsync", []string{"lock", "submit:0xAB"}, "marketsync:lock:submit:0xAB"},
		{"dev", []string{"market:catalog"}, "dev:market:catalog"},
	}
	for _, tt := range tests {
		c := NewFromClient(nil, tt.prefix, 0)
		if got := c.key(tt.parts...); got != tt.want {
			t.Errorf("key(%q, %q) = %q; want %q", tt.prefix, tt.parts, got, tt.want)
		}
	}
}

func TestViewKeyIsCaseInsensitive(t *testing.T) {
	vc := NewViewCache(NewFromClient(nil, "", time.Minute))
	a := common.HexToAddress("0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266")
	if got, want := vc.viewKey(a), "views:0xf39fd6e51aad88f6f4ce6ab8827279cfffb92266"; got != want {
		t.Errorf("viewKey() = %q; want %q", got, want)
	}
}

func TestHasPattern(t *testing.T) {
	tests := []struct {
		channel string
		want    bool
	}{
		{"market:catalog", false},
		{"market:owned:*", true},
		{"market:owned:0x?", true},
		{"market:[ab]", true},
	}
	for _, tt := range tests {
		if got := hasPattern(tt.channel); got != tt.want {
			t.Errorf("hasPattern(%q) = %v; want %v", tt.channel, got, tt.want)
		}
	}
}

func TestNewFromClientDefaultsTTL(t *testing.T) {
	if c := NewFromClient(nil, "", 0); c.viewTTL != defaultViewTTL {
		t.Errorf("viewTTL = %v; want %v", c.viewTTL, defaultViewTTL)
	}
}
