package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func attendance(owner, date, status string) AttendanceRecord {
	return AttendanceRecord{
		OwnerID: owner, FullName: "Nguyen Van A", StudentID: owner,
		CourseCode: "CPV301", CourseName: "Computer Vision", Term: "Fall2024",
		SessionNo: 3, Date: date, Slot: "2", Room: "AL-R201", Lecturer: "hoangnt",
		Group: "AI1801", Status: status, Comment: Unknown,
	}
}

func TestNewDocumentIsDeterministic(t *testing.T) {
	a, err := NewDocument(attendance("HE170001", "09/09/2024", "Present"))
	require.NoError(t, err)
	b, err := NewDocument(attendance("HE170001", "09/09/2024", "Present"))
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, RecordAttendance, a.RecordType)
	assert.Equal(t, 20240909, a.DateKey)
	assert.Equal(t, "CPV301", a.SubjectCode)
	assert.Contains(t, a.Text, "Comment: unknown")
}

func TestDocumentIDDependsOnOwner(t *testing.T) {
	a, err := NewDocument(attendance("HE170001", "09/09/2024", "Present"))
	require.NoError(t, err)
	shared := attendance("HE170001", "09/09/2024", "Present")
	shared.OwnerID = ""
	b, err := NewDocument(shared)
	require.NoError(t, err)

	assert.Equal(t, a.ContentHash, b.ContentHash)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestProfileRendersBooleanLabels(t *testing.T) {
	rec := ProfileRecord{FullName: "A", RollNumber: "HE1", FullTime: true, Scholarship: false}
	assert.Contains(t, rec.Text(), "Study mode: full-time | Scholarship: no")
}

func TestUnknownFieldsAreNotFilterable(t *testing.T) {
	rec := GradeRecord{CourseCode: Unknown, Term: Unknown, Value: Unknown}
	base := rec.Base()
	assert.Empty(t, base.SubjectCode)
	assert.Empty(t, base.Term)
	assert.Equal(t, -1.0, rec.Display()["value"])
}

func TestFilterMatches(t *testing.T) {
	doc, err := NewDocument(attendance("HE170001", "22/01/2025", "Absent"))
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter Filter
		want   bool
	}{
		{"empty", Filter{}, true},
		{"must type", Filter{Must: []Condition{Match(FieldRecordType, string(RecordAttendance))}}, true},
		{"must other type", Filter{Must: []Condition{Match(FieldRecordType, string(RecordGradeDetail))}}, false},
		{"single should is mandatory", Filter{Should: []Condition{Match(FieldSubjectCode, "MAD101")}}, false},
		{"any should", Filter{Should: []Condition{Match(FieldSubjectCode, "MAD101"), Match(FieldSubjectCode, "CPV301")}}, true},
		{"date in range", Filter{Must: []Condition{Between(FieldDateKey, 20250122, 20250128)}}, true},
		{"date out of range", Filter{Must: []Condition{Between(FieldDateKey, 20250123, 20250128)}}, false},
		{"owner", Filter{Owner: &OwnerScope{OwnerID: "HE170001"}}, true},
		{"other owner", Filter{Owner: &OwnerScope{OwnerID: "HE170002", IncludeShared: true}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(doc))
		})
	}
}

func TestSharedDocumentsVisibleWithScope(t *testing.T) {
	rec := CourseSummaryRecord{CourseCode: "CPV301", Term: "Fall2024"}
	doc, err := NewDocument(rec)
	require.NoError(t, err)

	assert.True(t, Filter{Owner: &OwnerScope{OwnerID: "HE170002", IncludeShared: true}}.Matches(doc))
	assert.False(t, Filter{Owner: &OwnerScope{OwnerID: "HE170002"}}.Matches(doc))
}

func TestCourseSummaryTextFillsMissingName(t *testing.T) {
	rec := CourseSummaryRecord{CourseCode: "CPV301", CourseName: "Computer Vision", Term: "Fall2024"}
	assert.Contains(t, rec.Text(), "Student: "+Unknown+"\n")
}

func TestSearchParamsRejectsBlankQuery(t *testing.T) {
	for _, q := range []string{"", "   ", "\t\n"} {
		params := SearchParams{Query: q}
		errs := Validate(&params)
		assert.Contains(t, errs, "Query", "query %q", q)
	}
	params := SearchParams{Query: "diem danh CPV301"}
	assert.Empty(t, Validate(&params))
}

func TestSearchParamsValidatesHistory(t *testing.T) {
	params := SearchParams{Query: "q", History: []Turn{{Role: "system", Content: "x"}}}
	assert.NotEmpty(t, Validate(&params))
}

func TestNewSearchResponse(t *testing.T) {
	in := NewIntent("attendance next week", SourceLocal)
	in.RecordType = RecordAttendance
	in.TimeRange = &DateRange{
		Start: time.Date(2025, 1, 22, 0, 0, 0, 0, time.Local),
		End:   time.Date(2025, 1, 28, 0, 0, 0, 0, time.Local),
	}
	resp := NewSearchResponse(&QueryResult{Intent: in, Results: []RankedResult{}, Status: StatusNoResults}, time.Now())

	require.NotNil(t, resp.DetectedType)
	assert.Equal(t, "attendance", *resp.DetectedType)
	require.NotNil(t, resp.DetectedSemester)
	assert.Equal(t, "22/01/2025 - 28/01/2025", *resp.DetectedSemester)
	assert.NotNil(t, resp.Results)
	assert.Equal(t, []string{}, resp.DetectedSubject)
}
