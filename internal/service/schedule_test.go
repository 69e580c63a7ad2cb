package service_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nghianinhnb/semantic-web-football-kg/internal/service"
)

func TestCronInterval(t *testing.T) {
	t.Parallel()

	type then struct {
		interval time.Duration // zero => only require a positive interval
		err      string
	}
	cases := []struct {
		scenario string
		given    string
		then     then
	}{
		{"valid_5_fields", "*/15 * * * *", then{15 * time.Minute, ""}},
		{"valid_nightly", "0 3 * * *", then{0, ""}},
		{"macro_hourly", "@hourly", then{time.Hour, ""}},
		{"macro_every", "@every 5m", then{5 * time.Minute, ""}},
		{"surrounding_spaces", "  */15 * * * *  ", then{15 * time.Minute, ""}},
		{"invalid_field_count_4", "* * * *", then{0, "expected exactly 5 fields"}},
		{"invalid_day_of_month", "* * 32 * *", then{0, "above maximum"}},
		{"empty", "", then{0, "empty cron expression"}},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()

			interval, err := service.CronInterval(tc.given)
			if tc.then.err != "" {
				require.ErrorContains(t, err, tc.then.err)
				return
			}
			require.NoError(t, err)
			if tc.then.interval > 0 {
				require.Equal(t, tc.then.interval, interval)
			} else {
				require.Positive(t, interval)
			}
		})
	}
}

func TestParseEvery(t *testing.T) {
	t.Parallel()

	type then struct {
		duration time.Duration
		err      string
	}
	cases := []struct {
		scenario string
		given    string
		then     then
	}{
		{"days", "1d", then{24 * time.Hour, ""}},
		{"days_and_hours", "1d12h", then{36 * time.Hour, ""}},
		{"minutes", "30m", then{30 * time.Minute, ""}},
		{"seconds", "90s", then{90 * time.Second, ""}},
		{"all_segments", "1d2h3m4s", then{26*time.Hour + 3*time.Minute + 4*time.Second, ""}},
		{"empty", "", then{0, "empty duration"}},
		{"wrong_order", "2h1d", then{0, "invalid duration format"}},
		{"unknown_unit", "5w", then{0, "invalid duration format"}},
		{"bare_number", "12", then{0, "invalid duration format"}},
	}

	for _, tc := range cases {
		t.Run(tc.scenario, func(t *testing.T) {
			t.Parallel()

			d, err := service.ParseEvery(tc.given)
			if tc.then.err != "" {
				require.ErrorContains(t, err, tc.then.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.then.duration, d)
		})
	}
}
