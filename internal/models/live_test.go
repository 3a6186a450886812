package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsLive(t *testing.T) {
	now := time.Now()
	zero := time.Time{}

	assert.True(t, IsLive(&Course{}))
	assert.True(t, IsLive(&Course{DeletedAt: &zero}))
	assert.False(t, IsLive(&Course{DeletedAt: &now}))
	assert.False(t, IsLive(nil))
}

func TestLiveOnlyKeepsOrder(t *testing.T) {
	now := time.Now()
	items := []*Schedule{
		{ID: "a"},
		{ID: "b", DeletedAt: &now},
		{ID: "c"},
	}

	live := LiveOnly(items)

	assert.Len(t, live, 2)
	assert.Equal(t, "a", live[0].ID)
	assert.Equal(t, "c", live[1].ID)
}

func TestCourseLiveSlots(t *testing.T) {
	now := time.Now()
	course := Course{Schedules: []Schedule{
		{DayOfWeek: 1, Period: 3},
		{DayOfWeek: 2, Period: 1, DeletedAt: &now},
		{DayOfWeek: 4, Period: 2},
	}}

	assert.Equal(t, []Slot{{DayOfWeek: 1, Period: 3}, {DayOfWeek: 4, Period: 2}}, course.LiveSlots())
}

func TestIntelligenceDomainValid(t *testing.T) {
	assert.Len(t, IntelligenceDomains, 6)
	assert.True(t, DomainCreative.Valid())
	assert.False(t, IntelligenceDomain("MUSICAL").Valid())
}
