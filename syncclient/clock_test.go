package syncclient

import (
	"testing"

	"match-sync-service/models"

	"github.com/stretchr/testify/assert"
)

func TestLocalClock_AdoptsFirstSeenValue(t *testing.T) {
	c := NewLocalClock(models.SeatOne)
	_, known := c.Remaining()
	assert.False(t, known)

	out := c.Merge(models.StateEnvelope{Clocks: map[models.Seat]int64{models.SeatOne: 5000, models.SeatTwo: 7000}})
	ms, known := c.Remaining()
	assert.True(t, known)
	assert.Equal(t, int64(5000), ms)
	assert.Equal(t, int64(7000), out.Clocks[models.SeatTwo])
}

func TestLocalClock_OverridesExternalValue(t *testing.T) {
	c := NewLocalClock(models.SeatOne)
	c.Set(4200)

	in := models.StateEnvelope{Clocks: map[models.Seat]int64{models.SeatOne: 9999, models.SeatTwo: 100}}
	out := c.Merge(in)

	assert.Equal(t, int64(4200), out.Clocks[models.SeatOne])
	assert.Equal(t, int64(100), out.Clocks[models.SeatTwo])
	assert.Equal(t, int64(9999), in.Clocks[models.SeatOne], "input is not modified")

	out = c.Merge(models.StateEnvelope{})
	assert.Equal(t, map[models.Seat]int64{models.SeatOne: 4200}, out.Clocks)
}
