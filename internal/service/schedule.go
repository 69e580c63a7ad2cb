package service

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// parseSchedule parses a cron expression that have 5 fields
// returns error if it fails
func parseSchedule(expr string) (cron.Schedule, error) {
	e := strings.TrimSpace(expr)
	if e == "" {
		return nil, fmt.Errorf("empty cron expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		return cron.ParseStandard(e)
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	// len == 5
	return parser5.Parse(e)
}

// CronInterval estimates the time between two consecutive fires of a
// cron expression. Informational, the scheduler does its own parsing.
func CronInterval(expr string) (time.Duration, error) {
	schedule, err := parseSchedule(expr)
	if err != nil {
		return 0, err
	}
	next1 := schedule.Next(time.Now())
	next2 := schedule.Next(next1)
	return next2.Sub(next1), nil
}

var everyRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// ParseEvery parses strings matching ^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$ into time.Duration.
// Supports ordered day/hour/minute/second segments. Empty string rejected.
func ParseEvery(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	m := everyRx.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.New("invalid duration format")
	}
	var total time.Duration
	for _, seg := range m[1:] { // groups 1..4
		if seg == "" {
			continue
		}
		// seg like "12d"
		numStr := seg[:len(seg)-1]
		val, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, errors.New("invalid number in " + seg)
		}
		var add time.Duration
		switch last := seg[len(seg)-1]; last {
		case 'd':
			add = time.Hour * 24 * time.Duration(val)
		case 'h':
			add = time.Hour * time.Duration(val)
		case 'm':
			add = time.Minute * time.Duration(val)
		case 's':
			add = time.Second * time.Duration(val)
		default:
			return 0, errors.New("unknown unit in " + seg)
		}
		// overflow check
		if (add > 0 && total > time.Duration(math.MaxInt64)-add) ||
			(add < 0 && total < time.Duration(math.MinInt64)-add) {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	return total, nil
}
