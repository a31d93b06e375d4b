package attendance

import (
	"math"
	"sort"
	"time"
)

// Standing classifies a percentage against the thresholds.
type Standing string

const (
	StandingSatisfactory Standing = "SATISFACTORY"
	StandingWarning      Standing = "WARNING"
	StandingCritical     Standing = "CRITICAL"
)

// Thresholds are the percentage cut points; anything below Warning is critical.
type Thresholds struct {
	Satisfactory int `json:"satisfactory"`
	Warning      int `json:"warning"`
}

func DefaultThresholds() Thresholds { return Thresholds{Satisfactory: 75, Warning: 65} }

func (t Thresholds) Classify(percentage int) Standing {
	switch {
	case percentage >= t.Satisfactory:
		return StandingSatisfactory
	case percentage >= t.Warning:
		return StandingWarning
	default:
		return StandingCritical
	}
}

// Percentage is round(attended/total*100), 0 when there were no classes.
func Percentage(attended, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(attended) / float64(total) * 100))
}

// Summary is an attended/total rollup.
type Summary struct {
	TotalClasses int      `json:"total_classes"`
	Attended     int      `json:"attended"`
	Percentage   int      `json:"percentage"`
	Status       Standing `json:"status"`
}

type SubjectSummary struct {
	SubjectCode string `json:"subject_code"`
	SubjectName string `json:"subject_name"`
	Summary
}

type StudentSummary struct {
	StudentID string `json:"student_id"`
	Summary
}

type CategorySummary struct {
	Category Category `json:"category"`
	Summary
}

// RollingSummary is a Summary over a trailing date range.
type RollingSummary struct {
	From string `json:"from"`
	To   string `json:"to"`
	Summary
}

type tally struct{ attended, total int }

func (t *tally) add(r Record) {
	if r.Status == StatusNotMarked {
		return
	}
	t.total++
	if r.Status.Credited() {
		t.attended++
	}
}

func (t tally) summary(th Thresholds) Summary {
	pct := Percentage(t.attended, t.total)
	return Summary{TotalClasses: t.total, Attended: t.attended, Percentage: pct, Status: th.Classify(pct)}
}

// Summarize rolls all records up into one summary. Un-marked records are
// not classes.
func Summarize(records []Record, th Thresholds) Summary {
	var t tally
	for _, r := range records {
		t.add(r)
	}
	return t.summary(th)
}

// BySubject groups records by subject code, sorted by code.
func BySubject(records []Record, th Thresholds) []SubjectSummary {
	tallies := map[string]*tally{}
	names := map[string]string{}
	for _, r := range records {
		t, ok := tallies[r.SubjectCode]
		if !ok {
			t = &tally{}
			tallies[r.SubjectCode] = t
		}
		if r.SubjectName != "" {
			names[r.SubjectCode] = r.SubjectName
		}
		t.add(r)
	}
	out := make([]SubjectSummary, 0, len(tallies))
	for code, t := range tallies {
		out = append(out, SubjectSummary{SubjectCode: code, SubjectName: names[code], Summary: t.summary(th)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubjectCode < out[j].SubjectCode })
	return out
}

// ByStudent groups records by student, sorted by student id.
func ByStudent(records []Record, th Thresholds) []StudentSummary {
	tallies := map[string]*tally{}
	for _, r := range records {
		t, ok := tallies[r.StudentID]
		if !ok {
			t = &tally{}
			tallies[r.StudentID] = t
		}
		t.add(r)
	}
	out := make([]StudentSummary, 0, len(tallies))
	for id, t := range tallies {
		out = append(out, StudentSummary{StudentID: id, Summary: t.summary(th)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StudentID < out[j].StudentID })
	return out
}

// ByCategory returns one summary per category, including empty ones.
func ByCategory(records []Record, th Thresholds) []CategorySummary {
	tallies := make(map[Category]*tally, len(Categories))
	for _, c := range Categories {
		tallies[c] = &tally{}
	}
	for _, r := range records {
		if t, ok := tallies[r.Category]; ok {
			t.add(r)
		}
	}
	out := make([]CategorySummary, 0, len(Categories))
	for _, c := range Categories {
		out = append(out, CategorySummary{Category: c, Summary: tallies[c].summary(th)})
	}
	return out
}

// RollingRange returns the first and last calendar day of a trailing window
// of the given length ending today, both inclusive.
func RollingRange(today time.Time, window time.Duration) (from, to time.Time) {
	days := int(window / (24 * time.Hour))
	if days < 1 {
		days = 1
	}
	return today.AddDate(0, 0, -(days - 1)), today
}

func filterRecords(records []Record, keep func(Record) bool) []Record {
	out := records[:0:0]
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
