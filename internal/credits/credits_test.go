package credits

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"roomchat/internal/store/storetest"
)

func TestLedgerAccumulates(t *testing.T) {
	ctx := context.Background()
	st, _ := storetest.NewMemory(t)
	l := NewLedger(st)

	if b, _ := l.Balance(ctx, "u1"); b != 0 {
		t.Fatalf("initial balance = %d", b)
	}
	if _, err := l.Grant(ctx, "u1", 500, "voucher"); err != nil {
		t.Fatalf("Grant: %v", err)
	}
	n, err := l.Grant(ctx, "u1", 750, "voucher")
	if err != nil || n != 1250 {
		t.Fatalf("Grant = %d, %v; want 1250", n, err)
	}
	if b, _ := l.Balance(ctx, "u1"); b != 1250 {
		t.Errorf("balance = %d", b)
	}
}

func TestLedgerStoreFailure(t *testing.T) {
	_, err := NewLedger(storetest.Failing{}).Grant(context.Background(), "u1", 1, "x")
	if !errors.Is(err, ErrGrantFailed) || !errors.Is(err, storetest.ErrUnavailable) {
		t.Errorf("err = %v, want ErrGrantFailed wrapping the store error", err)
	}
}

func TestHTTPGranter(t *testing.T) {
	tests := map[string]struct {
		status  int
		body    string
		want    int64
		wantErr bool
	}{
		"ok":           {status: http.StatusOK, body: `{"success":true,"balance":1700}`, want: 1700},
		"rejected":     {status: http.StatusOK, body: `{"success":false,"error":"frozen"}`, wantErr: true},
		"server error": {status: http.StatusBadGateway, body: `{"success":false}`, wantErr: true},
		"not json":     {status: http.StatusOK, body: `<html>`, wantErr: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var got grantRequest
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			n, err := NewHTTPGranter(srv.URL, srv.Client()).Grant(context.Background(), "u1", 700, "voucher:1234567")
			if tc.wantErr {
				if !errors.Is(err, ErrGrantFailed) {
					t.Fatalf("err = %v, want ErrGrantFailed", err)
				}
				return
			}
			if err != nil || n != tc.want {
				t.Fatalf("Grant = %d, %v", n, err)
			}
			if got.UserID != "u1" || got.Amount != 700 || got.Reason != "voucher:1234567" {
				t.Errorf("request = %+v", got)
			}
		})
	}
}
