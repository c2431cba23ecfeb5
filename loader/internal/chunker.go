package internal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	ltypes "fapchat/loader/types"
	"fapchat/types"
)

// RowError reports a required column missing from one row.
type RowError struct {
	Kind  ltypes.Kind
	Line  int
	Field string
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s line %d: missing column %q", e.Kind, e.Line, e.Field)
}

// Chunker turns portal rows into typed records, one record per row.
type Chunker struct{}

func NewChunker() *Chunker {
	return &Chunker{}
}

// field reads one row for one kind. The first missing required column is
// kept in err.
type field struct {
	kind ltypes.Kind
	row  Row
	err  *RowError
}

func (f *field) required(col string) string {
	v, ok := f.row.Values[col]
	if !ok {
		if f.err == nil {
			f.err = &RowError{Kind: f.kind, Line: f.row.Line, Field: col}
		}
		return types.Unknown
	}
	return clean(v)
}

func (f *field) optional(col string) string {
	return clean(f.row.Values[col])
}

func clean(v string) string {
	v = strings.TrimSpace(v)
	switch strings.ToLower(v) {
	case "", "nan", "null":
		return types.Unknown
	}
	return v
}

func (f *field) result() error {
	if f.err != nil {
		return f.err
	}
	return nil
}

func parseBool(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y", "t":
		return true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f != 0
	}
	return false
}

func parseSession(v string) int {
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
		return int(f)
	}
	return -1
}

var datePattern = regexp.MustCompile(`(\d{1,2})/(\d{1,2})/(\d{4})`)

// NormalizeDate extracts DD/MM/YYYY from forms such as "Monday 9/9/2024".
// Values without a date are returned unchanged.
func NormalizeDate(v string) string {
	m := datePattern.FindStringSubmatch(v)
	if m == nil {
		return v
	}
	day, _ := strconv.Atoi(m[1])
	month, _ := strconv.Atoi(m[2])
	return fmt.Sprintf("%02d/%02d/%s", day, month, m[3])
}

func owner(rowID string, opts ltypes.Options) string {
	if rowID != types.Unknown {
		return rowID
	}
	return opts.OwnerID
}

func name(rowName string, opts ltypes.Options) string {
	if opts.DisplayName != "" {
		return opts.DisplayName
	}
	return rowName
}

func (c *Chunker) Profile(row Row, opts ltypes.Options) (types.ProfileRecord, error) {
	f := &field{kind: ltypes.KindProfile, row: row}
	rec := types.ProfileRecord{
		FullName:       name(f.optional("full_name"), opts),
		RollNumber:     f.required("roll_number"),
		DateOfBirth:    f.required("date_of_birth"),
		Gender:         f.required("gender"),
		Major:          f.required("major"),
		MainClass:      f.required("main_class"),
		CurrentStatus:  f.required("current_status"),
		FullTime:       parseBool(f.required("is_full_time_student")),
		Scholarship:    parseBool(f.required("is_scholarship_student")),
		HomeAddress:    f.required("home_address"),
		Email:          f.required("email_address"),
		Phone:          f.required("phone_number"),
		IDCardNumber:   f.optional("id_card_number"),
		IDIssueDate:    f.optional("id_date_of_issue"),
		IDIssuePlace:   f.optional("id_place_of_issue"),
		OldRollNumber:  f.optional("old_roll_number"),
		MemberCode:     f.optional("member_code"),
		EnrollmentDate: f.optional("enrollment_date"),
		TrainingType:   f.optional("training_type"),
		StartTerm:      f.optional("start_term"),
	}
	rec.OwnerID = owner(rec.RollNumber, opts)
	return rec, f.result()
}

func (c *Chunker) Attendance(row Row, opts ltypes.Options) (types.AttendanceRecord, error) {
	f := &field{kind: ltypes.KindAttendance, row: row}
	rec := types.AttendanceRecord{
		FullName:   name(f.optional("full_name"), opts),
		StudentID:  f.optional("student_id"),
		CourseCode: f.required("course_code"),
		CourseName: f.required("course_name"),
		Term:       f.required("term"),
		SessionNo:  parseSession(f.required("no")),
		Date:       NormalizeDate(f.required("date")),
		Slot:       f.required("slot"),
		Room:       f.required("room"),
		Lecturer:   f.required("lecturer"),
		Group:      f.required("group"),
		Status:     f.required("status"),
		Comment:    f.optional("comment"),
	}
	rec.OwnerID = owner(rec.StudentID, opts)
	return rec, f.result()
}

func (c *Chunker) Grade(row Row, opts ltypes.Options) (types.GradeRecord, error) {
	f := &field{kind: ltypes.KindGrade, row: row}
	rec := types.GradeRecord{
		FullName:   name(f.optional("full_name"), opts),
		StudentID:  f.optional("student_id"),
		CourseCode: f.required("course_code"),
		CourseName: f.required("course_name"),
		Term:       f.required("term"),
		Item:       f.required("item"),
		Category:   f.required("category"),
		Weight:     f.required("weight"),
		Value:      f.required("value"),
	}
	rec.OwnerID = owner(rec.StudentID, opts)
	return rec, f.result()
}

// CourseSummary rows carry no student id; they belong to opts.OwnerID, or
// are shared when it is empty.
func (c *Chunker) CourseSummary(row Row, opts ltypes.Options) (types.CourseSummaryRecord, error) {
	f := &field{kind: ltypes.KindCourseSummary, row: row}
	rec := types.CourseSummaryRecord{
		OwnerID:    opts.OwnerID,
		FullName:   clean(opts.DisplayName),
		CourseCode: f.required("course_code"),
		CourseName: f.required("course_name"),
		Term:       f.required("term"),
		AvgScore:   f.required("avg_score"),
		Status:     f.required("status"),
		Summary:    f.required("summary"),
	}
	return rec, f.result()
}

func (c *Chunker) Chunk(kind ltypes.Kind, row Row, opts ltypes.Options) (types.Record, error) {
	switch kind {
	case ltypes.KindProfile:
		return c.Profile(row, opts)
	case ltypes.KindAttendance:
		return c.Attendance(row, opts)
	case ltypes.KindGrade:
		return c.Grade(row, opts)
	case ltypes.KindCourseSummary:
		return c.CourseSummary(row, opts)
	}
	return nil, fmt.Errorf("unknown record kind %q", kind)
}

// ChunkAll maps every row. With SkipRowErrors bad rows are collected and
// left out; with AbortRowErrors the first bad row stops the run.
func (c *Chunker) ChunkAll(kind ltypes.Kind, rows []Row, opts ltypes.Options, policy ltypes.RowErrorPolicy) ([]types.Record, []*RowError, error) {
	records := make([]types.Record, 0, len(rows))
	var rowErrs []*RowError
	for _, row := range rows {
		rec, err := c.Chunk(kind, row, opts)
		if err != nil {
			rerr, ok := err.(*RowError)
			if !ok {
				return nil, nil, err
			}
			if policy == ltypes.AbortRowErrors {
				return nil, []*RowError{rerr}, rerr
			}
			rowErrs = append(rowErrs, rerr)
			continue
		}
		records = append(records, rec)
	}
	return records, rowErrs, nil
}
