package matcher

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"metro_alerts/internal/model"
)

func ptr[T any](v T) *T { return &v }

func TestMatches(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		alert model.Alert
		want  bool
	}{
		{
			name:  "wildcard matches anything",
			text:  "Route 502 inbound service cancelled",
			alert: model.Alert{},
			want:  true,
		},
		{
			name:  "wildcard matches empty text",
			text:  "",
			alert: model.Alert{},
			want:  true,
		},
		{
			name:  "route substring case-insensitive",
			text:  "The x50 departing Hobart has been cancelled",
			alert: model.Alert{Route: ptr("X50")},
			want:  true,
		},
		{
			name:  "route missing",
			text:  "The 502 departing Hobart has been cancelled",
			alert: model.Alert{Route: ptr("X50")},
			want:  false,
		},
		{
			name:  "direction present",
			text:  "X50 OUTBOUND trip cancelled",
			alert: model.Alert{Route: ptr("X50"), Direction: ptr(model.DirectionOut)},
			want:  true,
		},
		{
			name:  "direction absent fails whole alert",
			text:  "X50 trip cancelled",
			alert: model.Alert{Route: ptr("X50"), Direction: ptr(model.DirectionOut)},
			want:  false,
		},
		{
			name:  "time literal",
			text:  "The 13:00 X50 service",
			alert: model.Alert{Time: ptr("13:00")},
			want:  true,
		},
		{
			name:  "time without colon",
			text:  "The 1300 X50 service",
			alert: model.Alert{Time: ptr("13:00")},
			want:  true,
		},
		{
			name:  "time in 12-hour form",
			text:  "The 1:00pm X50 service",
			alert: model.Alert{Time: ptr("13:00")},
			want:  true,
		},
		{
			name:  "time in 12-hour form without colon",
			text:  "trip 100 cancelled",
			alert: model.Alert{Time: ptr("13:00")},
			want:  true,
		},
		{
			name:  "unpadded time has no 24-hour evening form",
			text:  "The 21:05 service is cancelled",
			alert: model.Alert{Time: ptr("9:05")},
			want:  false,
		},
		{
			name:  "dotted time is not a variation",
			text:  "The 9.05am service is cancelled",
			alert: model.Alert{Time: ptr("9:05")},
			want:  false,
		},
		{
			name:  "evening time matches its 12-hour form",
			text:  "The 9:05pm service is cancelled",
			alert: model.Alert{Time: ptr("21:05")},
			want:  true,
		},
		{
			name:  "padded time matches unpadded text",
			text:  "The 9:05 service is cancelled",
			alert: model.Alert{Time: ptr("09:05")},
			want:  true,
		},
		{
			name:  "all fields must hold",
			text:  "X50 inbound 7:45 cancelled",
			alert: model.Alert{Route: ptr("X50"), Time: ptr("07:45"), Direction: ptr(model.DirectionIn)},
			want:  true,
		},
		{
			name:  "time fails while route holds",
			text:  "X50 inbound 8:45 cancelled",
			alert: model.Alert{Route: ptr("X50"), Time: ptr("07:45"), Direction: ptr(model.DirectionIn)},
			want:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(tt.text, tt.alert)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Matches() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestTimeVariations(t *testing.T) {
	tests := []struct {
		in   string
		want []string
	}{
		{in: "13:00", want: []string{"13:00", "1300", "1:00", "100"}},
		{in: "09:05", want: []string{"09:05", "0905", "9:05", "905"}},
		{in: "9:05", want: []string{"9:05", "905"}},
		{in: "00:30", want: []string{"00:30", "0030", "12:30", "1230"}},
		{in: "12:15", want: []string{"12:15", "1215"}},
		{in: "noon", want: []string{"noon"}},
		{in: "25:61", want: []string{"25:61", "2561"}},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := TimeVariations(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("TimeVariations(%q) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestMatchReturnsEveryMatchingAlert(t *testing.T) {
	alerts := []model.Alert{
		{ID: 1, UserID: "a", Route: ptr("X50")},
		{ID: 2, UserID: "b", Route: ptr("502")},
		{ID: 3, UserID: "c"},
		{ID: 4, UserID: "a", Route: ptr("x50"), Time: ptr("13:00")},
	}

	got := Match("X50 1:00 departure cancelled", alerts)

	var gotIDs []int64
	for _, a := range got {
		gotIDs = append(gotIDs, a.ID)
	}
	if diff := cmp.Diff([]int64{1, 3, 4}, gotIDs); diff != "" {
		t.Errorf("matched IDs mismatch (-want +got):\n%s", diff)
	}
}
