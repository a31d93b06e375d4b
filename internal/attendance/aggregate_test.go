package attendance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0, Percentage(0, 0))
	assert.Equal(t, 100, Percentage(3, 3))
	assert.Equal(t, 67, Percentage(2, 3))
	assert.Equal(t, 33, Percentage(1, 3))
	assert.Equal(t, 50, Percentage(1, 2))
}

func TestThresholds_Classify(t *testing.T) {
	th := DefaultThresholds()
	cases := []struct {
		pct  int
		want Standing
	}{
		{100, StandingSatisfactory},
		{75, StandingSatisfactory},
		{74, StandingWarning},
		{65, StandingWarning},
		{64, StandingCritical},
		{0, StandingCritical},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, th.Classify(tc.pct), "pct=%d", tc.pct)
	}
}

func rec(student, subject string, day int, status Status, cat Category) Record {
	return Record{
		StudentID:   student,
		SlotID:      subject + "-slot",
		Date:        monday.AddDate(0, 0, day),
		Status:      status,
		Category:    cat,
		SubjectCode: subject,
		SubjectName: subject + " name",
	}
}

func TestSummarize(t *testing.T) {
	records := []Record{
		rec("s1", "MA", 0, StatusPresent, CategoryAcademic),
		rec("s1", "MA", 1, StatusLate, CategoryAcademic),
		rec("s1", "MA", 2, StatusExcused, CategoryAcademic),
		rec("s1", "MA", 3, StatusAbsent, CategoryAcademic),
		rec("s1", "MA", 4, StatusNotMarked, CategoryAcademic),
	}
	s := Summarize(records, DefaultThresholds())
	assert.Equal(t, Summary{TotalClasses: 4, Attended: 3, Percentage: 75, Status: StandingSatisfactory}, s)

	empty := Summarize(nil, DefaultThresholds())
	assert.Equal(t, 0, empty.Percentage)
	assert.Equal(t, StandingCritical, empty.Status)
}

func TestBySubject_SortedByCode(t *testing.T) {
	records := []Record{
		rec("s1", "PH", 0, StatusAbsent, CategoryAcademic),
		rec("s1", "MA", 0, StatusPresent, CategoryAcademic),
		rec("s1", "MA", 1, StatusAbsent, CategoryAcademic),
		rec("s1", "CS", 0, StatusPresent, CategoryAcademic),
	}
	got := BySubject(records, DefaultThresholds())
	require.Len(t, got, 3)
	assert.Equal(t, "CS", got[0].SubjectCode)
	assert.Equal(t, "MA", got[1].SubjectCode)
	assert.Equal(t, "MA name", got[1].SubjectName)
	assert.Equal(t, 50, got[1].Percentage)
	assert.Equal(t, StandingCritical, got[1].Status)
	assert.Equal(t, "PH", got[2].SubjectCode)
	assert.Equal(t, 0, got[2].Percentage)
}

func TestByStudent(t *testing.T) {
	records := []Record{
		rec("s2", "MA", 0, StatusAbsent, CategoryAcademic),
		rec("s1", "MA", 0, StatusPresent, CategoryAcademic),
	}
	got := ByStudent(records, DefaultThresholds())
	require.Len(t, got, 2)
	assert.Equal(t, "s1", got[0].StudentID)
	assert.Equal(t, 100, got[0].Percentage)
	assert.Equal(t, "s2", got[1].StudentID)
}

func TestByCategory_IncludesEmpty(t *testing.T) {
	records := []Record{
		rec("s1", "MA", 0, StatusPresent, CategoryAcademic),
		rec("s1", "FEST", 0, StatusAbsent, CategoryEvent),
	}
	got := ByCategory(records, DefaultThresholds())
	require.Len(t, got, len(Categories))
	assert.Equal(t, CategoryAcademic, got[0].Category)
	assert.Equal(t, 1, got[0].Attended)
	assert.Equal(t, 1, got[1].TotalClasses)
	assert.Equal(t, 0, got[3].TotalClasses)
}

func TestRollingRange(t *testing.T) {
	from, to := RollingRange(monday, 4*7*24*time.Hour)
	assert.Equal(t, monday, to)
	assert.Equal(t, monday.AddDate(0, 0, -27), from)
}
