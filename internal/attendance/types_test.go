package attendance

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEnums(t *testing.T) {
	r, err := ParseRole(" faculty ")
	require.NoError(t, err)
	assert.Equal(t, RoleFaculty, r)

	_, err = ParseRole("dean")
	assert.ErrorIs(t, err, ErrInvalidRole)

	c, err := ParseCategory("Sports")
	require.NoError(t, err)
	assert.Equal(t, CategorySports, c)

	_, err = ParseStatus("HALF")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestClockTime_Text(t *testing.T) {
	c, err := ParseClock("09:05")
	require.NoError(t, err)
	assert.Equal(t, ClockTime(9*60+5), c)
	assert.Equal(t, "09:05", c.String())

	_, err = ParseClock("25:00")
	assert.ErrorIs(t, err, ErrInvalidSlot)

	var slot TimeSlot
	require.NoError(t, json.Unmarshal([]byte(`{"start":"13:30","end":"14:20"}`), &slot))
	assert.Equal(t, ClockTime(13*60+30), slot.Start)
	assert.Equal(t, ClockTime(14*60+20), slot.End)
}

func TestValidateDay(t *testing.T) {
	s := func(n int, start, end ClockTime) TimeSlot {
		sl := mathsSlot()
		sl.Number, sl.Start, sl.End = n, start, end
		return sl
	}
	assert.NoError(t, ValidateDay([]TimeSlot{s(2, 600, 660), s(1, 540, 600)}))
	assert.ErrorIs(t, ValidateDay([]TimeSlot{s(1, 540, 600), s(3, 660, 720)}), ErrInvalidSlot)
	assert.ErrorIs(t, ValidateDay([]TimeSlot{s(1, 540, 600), s(1, 600, 660)}), ErrInvalidSlot)
	assert.ErrorIs(t, ValidateDay([]TimeSlot{s(1, 540, 600), s(2, 590, 660)}), ErrInvalidSlot)

	bad := s(1, 600, 540)
	assert.ErrorIs(t, bad.Validate(), ErrInvalidSlot)
}

func TestNewOverride_RequiresReason(t *testing.T) {
	_, err := NewOverride("   ")
	assert.ErrorIs(t, err, ErrOverrideReasonRequired)

	o, err := NewOverride(" Placement Drive ")
	require.NoError(t, err)
	reason, ok := o.OverrideReason()
	assert.True(t, ok)
	assert.Equal(t, "Placement Drive", reason)
}

func TestRecord_JSONCarriesOrigin(t *testing.T) {
	o, err := NewOverride("Placement Drive")
	require.NoError(t, err)
	in := rec("s1", "MA", 0, StatusPresent, CategoryAcademic)
	in.Origin = o
	in.MarkedAt = time.Date(2026, 10, 19, 10, 16, 0, 0, time.UTC)

	b, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"override":true`)
	assert.Contains(t, string(b), `"date":"2026-10-19"`)

	var out Record
	require.NoError(t, json.Unmarshal(b, &out))
	assert.True(t, out.IsOverride())
	reason, _ := out.OverrideReason()
	assert.Equal(t, "Placement Drive", reason)
	assert.Equal(t, in.Date, out.Date)

	// an override without a reason cannot be decoded
	err = json.Unmarshal([]byte(`{"date":"2026-10-19","override":true}`), &out)
	assert.ErrorIs(t, err, ErrOverrideReasonRequired)
}
