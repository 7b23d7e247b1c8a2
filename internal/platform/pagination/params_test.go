package pagination

import (
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	token, err := EncodeToken(Cursor{CreatedAt: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), ID: "ord_01"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}

	tests := []struct {
		name     string
		query    url.Values
		opts     Options
		wantSize int
		wantID   string
		wantErr  error
	}{
		{name: "defaults", wantSize: DefaultPageSize},
		{name: "endpoint default", opts: Options{DefaultPageSize: 20}, wantSize: 20},
		{name: "default above max", opts: Options{DefaultPageSize: 80, MaxPageSize: 30}, wantSize: 30},
		{name: "explicit", query: url.Values{"pageSize": {"30"}}, opts: Options{MaxPageSize: 40}, wantSize: 30},
		{name: "clamped", query: url.Values{"pageSize": {"400"}}, opts: Options{MaxPageSize: 40}, wantSize: 40},
		{name: "not a number", query: url.Values{"pageSize": {"abc"}}, wantErr: ErrInvalidPageSize},
		{name: "zero", query: url.Values{"pageSize": {"0"}}, wantErr: ErrInvalidPageSize},
		{name: "negative", query: url.Values{"pageSize": {"-3"}}, wantErr: ErrInvalidPageSize},
		{name: "cursor", query: url.Values{"pageToken": {token}}, wantSize: DefaultPageSize, wantID: "ord_01"},
		{name: "garbage token", query: url.Values{"pageToken": {"%%%"}}, wantErr: ErrInvalidPageToken},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.query, tc.opts)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if got.PageSize != tc.wantSize {
				t.Fatalf("expected page size %d, got %d", tc.wantSize, got.PageSize)
			}
			if got.Cursor.ID != tc.wantID {
				t.Fatalf("expected cursor id %q, got %q", tc.wantID, got.Cursor.ID)
			}
		})
	}
}

func TestFromRequestKeepsToken(t *testing.T) {
	created := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	token, err := EncodeToken(Cursor{CreatedAt: created, ID: "dl_9"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	params, err := FromRequest(httptest.NewRequest("GET", "/internal/dead-letters?pageToken="+token, nil), Options{})
	if err != nil {
		t.Fatalf("FromRequest: %v", err)
	}
	if params.PageToken != token || !params.Cursor.CreatedAt.Equal(created) {
		t.Fatalf("unexpected params %#v", params)
	}
	if empty, _ := EncodeToken(Cursor{}); empty != "" {
		t.Fatalf("expected empty token for zero cursor, got %q", empty)
	}
}

func TestNormalizePageSize(t *testing.T) {
	for in, want := range map[int]int{0: DefaultPageSize, -1: DefaultPageSize, 10: 10, 1000: DefaultMaxPageSize} {
		if got := NormalizePageSize(in); got != want {
			t.Errorf("NormalizePageSize(%d) = %d, want %d", in, got, want)
		}
	}
}
