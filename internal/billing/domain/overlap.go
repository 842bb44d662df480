package domain

import (
	"sort"
	"time"

	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
)

type span struct {
	start time.Time
	end   time.Time
}

// OverlapSeconds computes billable seconds: the total length of time covered
// by at least one span on BOTH sides, capped to [0, cap]. Open spans
// (LeftAt == nil) extend to now. Each side is unioned first so a participant's
// own overlapping reconnect spans are never double-counted. The result does
// not depend on input ordering.
func OverlapSeconds(userIntervals, expertIntervals []consultationdomain.ParticipantInterval, now time.Time, capSeconds int64) int64 {
	if capSeconds <= 0 {
		return 0
	}
	user := unionSpans(userIntervals, now)
	expert := unionSpans(expertIntervals, now)
	if len(user) == 0 || len(expert) == 0 {
		return 0
	}

	var total time.Duration
	i, j := 0, 0
	for i < len(user) && j < len(expert) {
		start := maxTime(user[i].start, expert[j].start)
		end := minTime(user[i].end, expert[j].end)
		if end.After(start) {
			total += end.Sub(start)
		}
		if user[i].end.Before(expert[j].end) {
			i++
		} else {
			j++
		}
	}

	seconds := int64(total / time.Second)
	if seconds < 0 {
		return 0
	}
	if seconds > capSeconds {
		return capSeconds
	}
	return seconds
}

// FallbackSeconds is the coarse computation used when no interval rows exist:
// from the moment both participants were present until the end, capped.
func FallbackSeconds(bothJoinedAt, startTime *time.Time, endTime time.Time, capSeconds int64) int64 {
	if capSeconds <= 0 {
		return 0
	}
	var from time.Time
	switch {
	case bothJoinedAt != nil && startTime != nil:
		from = maxTime(*bothJoinedAt, *startTime)
	case bothJoinedAt != nil:
		from = *bothJoinedAt
	case startTime != nil:
		from = *startTime
	default:
		return 0
	}
	if !endTime.After(from) {
		return 0
	}
	seconds := int64(endTime.Sub(from) / time.Second)
	if seconds > capSeconds {
		return capSeconds
	}
	return seconds
}

// unionSpans resolves one participant's raw intervals into a sorted set of
// non-overlapping spans, closing open spans at now.
func unionSpans(intervals []consultationdomain.ParticipantInterval, now time.Time) []span {
	spans := make([]span, 0, len(intervals))
	for _, iv := range intervals {
		end := now
		if iv.LeftAt != nil {
			end = *iv.LeftAt
		}
		if !end.After(iv.JoinedAt) {
			continue
		}
		spans = append(spans, span{start: iv.JoinedAt, end: end})
	}
	if len(spans) == 0 {
		return nil
	}

	sort.Slice(spans, func(a, b int) bool { return spans[a].start.Before(spans[b].start) })

	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if !s.start.After(last.end) {
			if s.end.After(last.end) {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}
