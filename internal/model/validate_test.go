package model

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func ptr[T any](v T) *T { return &v }

func TestValidateAlert(t *testing.T) {
	tests := []struct {
		name      string
		alert     Alert
		wantField string
	}{
		{
			name:  "wildcard alert is legal",
			alert: Alert{UserID: "42"},
		},
		{
			name:  "all fields set",
			alert: Alert{UserID: "42", Route: ptr("X50"), Time: ptr("13:12"), Direction: ptr(DirectionIn)},
		},
		{
			name:  "single digit hour",
			alert: Alert{UserID: "42", Time: ptr("9:05")},
		},
		{
			name:      "missing user",
			alert:     Alert{},
			wantField: "userid",
		},
		{
			name:      "time without colon",
			alert:     Alert{UserID: "42", Time: ptr("1312")},
			wantField: "time",
		},
		{
			name:      "time out of range",
			alert:     Alert{UserID: "42", Time: ptr("25:00")},
			wantField: "time",
		},
		{
			name:      "unknown direction",
			alert:     Alert{UserID: "42", Direction: ptr(Direction("sideways"))},
			wantField: "direction",
		},
		{
			name:      "route spans lines",
			alert:     Alert{UserID: "42", Route: ptr("X5\n0")},
			wantField: "route",
		},
		{
			name:      "empty route",
			alert:     Alert{UserID: "42", Route: ptr("")},
			wantField: "route",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAlert(tt.alert)
			if tt.wantField == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidAlert) {
				t.Fatalf("expected ErrInvalidAlert, got %v", err)
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected *ValidationError, got %T", err)
			}
			if diff := cmp.Diff(tt.wantField, verr.Field); diff != "" {
				t.Errorf("field mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		in      string
		want    Direction
		wantErr bool
	}{
		{in: "IN", want: DirectionIn},
		{in: " out ", want: DirectionOut},
		{in: "Out", want: DirectionOut},
		{in: "up", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseDirection(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseDirection() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHashes(t *testing.T) {
	a := ContentHash("42", "https://example.com/a", "Route X50 cancelled")
	b := ContentHash("42", "https://example.com/a", "Route X50 cancelled")
	c := ContentHash("43", "https://example.com/a", "Route X50 cancelled")
	if a != b {
		t.Errorf("content hash not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Error("content hash should differ per recipient")
	}
	if FreshHash() == FreshHash() {
		t.Error("fresh hashes collided")
	}
}

func TestParseDeliveryMethod(t *testing.T) {
	tests := []struct {
		in     string
		want   DeliveryMethod
		wantOK bool
	}{
		{in: "discord_DM", want: DeliveryDirect, wantOK: true},
		{in: "discord_channel", want: DeliveryChannel, wantOK: true},
		{in: "", want: DeliveryDirect},
		{in: "carrier pigeon", want: DeliveryDirect},
	}
	for _, tt := range tests {
		got, ok := ParseDeliveryMethod(tt.in)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseDeliveryMethod(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
		}
	}
}
