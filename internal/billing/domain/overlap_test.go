package domain

import (
	"testing"
	"time"

	consultationdomain "github.com/talktime/talktime/internal/consultation/domain"
	"github.com/stretchr/testify/assert"
)

var base = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

func closedInterval(role consultationdomain.ParticipantRole, fromSec, toSec int) consultationdomain.ParticipantInterval {
	left := base.Add(time.Duration(toSec) * time.Second)
	return consultationdomain.ParticipantInterval{
		Role:     role,
		JoinedAt: base.Add(time.Duration(fromSec) * time.Second),
		LeftAt:   &left,
	}
}

func openInterval(role consultationdomain.ParticipantRole, fromSec int) consultationdomain.ParticipantInterval {
	return consultationdomain.ParticipantInterval{
		Role:     role,
		JoinedAt: base.Add(time.Duration(fromSec) * time.Second),
	}
}

func TestOverlapSecondsBothPresentWindow(t *testing.T) {
	user := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleUser, 0, 180)}
	expert := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleExpert, 30, 150)}

	got := OverlapSeconds(user, expert, base.Add(200*time.Second), 600)
	assert.Equal(t, int64(120), got)
}

func TestOverlapSecondsDisjoint(t *testing.T) {
	user := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleUser, 0, 60)}
	expert := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleExpert, 120, 180)}

	got := OverlapSeconds(user, expert, base.Add(300*time.Second), 600)
	assert.Equal(t, int64(0), got)
}

func TestOverlapSecondsOneSideNeverJoined(t *testing.T) {
	user := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleUser, 0, 300)}

	got := OverlapSeconds(user, nil, base.Add(300*time.Second), 600)
	assert.Equal(t, int64(0), got)
}

func TestOverlapSecondsReconnectSpansAreUnioned(t *testing.T) {
	// The user's second span overlaps their first; counting both raw would
	// double-bill 0..60.
	user := []consultationdomain.ParticipantInterval{
		closedInterval(consultationdomain.RoleUser, 0, 120),
		closedInterval(consultationdomain.RoleUser, 60, 180),
	}
	expert := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleExpert, 0, 180)}

	got := OverlapSeconds(user, expert, base.Add(300*time.Second), 600)
	assert.Equal(t, int64(180), got)
}

func TestOverlapSecondsMultipleDisjointSegments(t *testing.T) {
	user := []consultationdomain.ParticipantInterval{
		closedInterval(consultationdomain.RoleUser, 0, 60),
		closedInterval(consultationdomain.RoleUser, 120, 200),
	}
	expert := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleExpert, 30, 150)}

	// 30..60 plus 120..150.
	got := OverlapSeconds(user, expert, base.Add(300*time.Second), 600)
	assert.Equal(t, int64(60), got)
}

func TestOverlapSecondsOpenSpansExtendToNow(t *testing.T) {
	user := []consultationdomain.ParticipantInterval{openInterval(consultationdomain.RoleUser, 0)}
	expert := []consultationdomain.ParticipantInterval{openInterval(consultationdomain.RoleExpert, 30)}

	got := OverlapSeconds(user, expert, base.Add(330*time.Second), 600)
	assert.Equal(t, int64(300), got)
}

func TestOverlapSecondsCapped(t *testing.T) {
	user := []consultationdomain.ParticipantInterval{openInterval(consultationdomain.RoleUser, 0)}
	expert := []consultationdomain.ParticipantInterval{openInterval(consultationdomain.RoleExpert, 0)}

	got := OverlapSeconds(user, expert, base.Add(1000*time.Second), 120)
	assert.Equal(t, int64(120), got)
}

func TestOverlapSecondsOrderIndependent(t *testing.T) {
	a := closedInterval(consultationdomain.RoleUser, 100, 200)
	b := closedInterval(consultationdomain.RoleUser, 0, 50)
	expert := []consultationdomain.ParticipantInterval{closedInterval(consultationdomain.RoleExpert, 0, 300)}

	now := base.Add(400 * time.Second)
	first := OverlapSeconds([]consultationdomain.ParticipantInterval{a, b}, expert, now, 600)
	second := OverlapSeconds([]consultationdomain.ParticipantInterval{b, a}, expert, now, 600)

	assert.Equal(t, int64(150), first)
	assert.Equal(t, first, second)
}

func TestFallbackSeconds(t *testing.T) {
	both := base.Add(30 * time.Second)
	start := base

	got := FallbackSeconds(&both, &start, base.Add(330*time.Second), 600)
	assert.Equal(t, int64(300), got)

	got = FallbackSeconds(&both, &start, base.Add(1000*time.Second), 120)
	assert.Equal(t, int64(120), got)

	got = FallbackSeconds(nil, nil, base.Add(300*time.Second), 600)
	assert.Equal(t, int64(0), got)
}
