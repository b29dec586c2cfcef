package pricefeed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestCoinGeckoFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/simple/price" || r.URL.Query().Get("vs_currencies") != "usd" {
			t.Errorf("unexpected request %s", r.URL)
		}
		_, _ = w.Write([]byte(`{"binancecoin":{"usd":612.5,"usd_24h_change":-1.2},"tether":{"usd":1.0}}`))
	}))
	defer srv.Close()

	got, err := NewCoinGecko(srv.URL).Fetch(context.Background(), []string{BNB, USDC, USDT})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got[BNB].Price != 612.5 || got[BNB].Change24h != -1.2 || got[BNB].Source != "coingecko" {
		t.Fatalf("BNB = %+v", got[BNB])
	}
	if _, ok := got[USDC]; ok {
		t.Fatal("USDC should be missing")
	}
}

func TestBinanceFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") != "BNBUSDT" {
			t.Errorf("symbol = %s", r.URL.Query().Get("symbol"))
		}
		_, _ = w.Write([]byte(`{"lastPrice":"598.10000000","priceChangePercent":"2.5"}`))
	}))
	defer srv.Close()

	got, err := NewBinance(srv.URL).Fetch(context.Background(), []string{BNB, USDT})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if got[BNB].Price != 598.1 || got[USDT].Price != 1.0 {
		t.Fatalf("quotes = %+v", got)
	}
}

func TestFeedUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	if _, err := NewCoinGecko(srv.URL).Fetch(context.Background(), []string{BNB}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
	if _, err := NewBinance(srv.URL).Fetch(context.Background(), []string{BNB}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatic(t *testing.T) {
	got, _ := NewStatic().Fetch(context.Background(), []string{BNB, USDC, "DOGE"})
	if got[BNB].Price != 300 || got[USDC].Price != 1.0 || len(got) != 2 {
		t.Fatalf("quotes = %+v", got)
	}
	if !IsSupported(USDT) || IsSupported("DOGE") {
		t.Fatal("IsSupported")
	}
}
