package types

import (
	"fmt"
	"strconv"
	"strings"
)

type ProfileRecord struct {
	OwnerID        string
	FullName       string
	RollNumber     string
	DateOfBirth    string
	Gender         string
	Major          string
	MainClass      string
	CurrentStatus  string
	FullTime       bool
	Scholarship    bool
	HomeAddress    string
	Email          string
	Phone          string
	IDCardNumber   string
	IDIssueDate    string
	IDIssuePlace   string
	OldRollNumber  string
	MemberCode     string
	EnrollmentDate string
	TrainingType   string
	StartTerm      string
}

func (r ProfileRecord) Base() Base {
	return Base{OwnerID: r.OwnerID, RecordType: RecordStudentProfile, Term: known(r.StartTerm)}
}

func (r ProfileRecord) Text() string {
	return strings.Join([]string{
		fmt.Sprintf("Student profile: %s | Student ID: %s", r.FullName, r.RollNumber),
		fmt.Sprintf("Date of birth: %s | Gender: %s", r.DateOfBirth, r.Gender),
		fmt.Sprintf("Major: %s | Class: %s | Status: %s", r.Major, r.MainClass, r.CurrentStatus),
		fmt.Sprintf("Study mode: %s | Scholarship: %s", studyMode(r.FullTime), yesNo(r.Scholarship)),
		fmt.Sprintf("Address: %s | Email: %s | Phone: %s", r.HomeAddress, r.Email, r.Phone),
	}, "\n")
}

func (r ProfileRecord) Display() map[string]any {
	return map[string]any{
		"full_name":       r.FullName,
		"roll_number":     r.RollNumber,
		"date_of_birth":   r.DateOfBirth,
		"gender":          r.Gender,
		"id_card_number":  r.IDCardNumber,
		"id_issue_date":   r.IDIssueDate,
		"id_issue_place":  r.IDIssuePlace,
		"home_address":    r.HomeAddress,
		"phone_number":    r.Phone,
		"email_address":   r.Email,
		"old_roll_number": r.OldRollNumber,
		"member_code":     r.MemberCode,
		"enrollment_date": r.EnrollmentDate,
		"major":           r.Major,
		"main_class":      r.MainClass,
		"current_status":  r.CurrentStatus,
		"full_time":       r.FullTime,
		"scholarship":     r.Scholarship,
		"training_type":   r.TrainingType,
		"start_term":      r.StartTerm,
	}
}

type AttendanceRecord struct {
	OwnerID    string
	FullName   string
	StudentID  string
	CourseCode string
	CourseName string
	Term       string
	SessionNo  int // -1 when unknown
	Date       string
	Slot       string
	Room       string
	Lecturer   string
	Group      string
	Status     string
	Comment    string
}

func (r AttendanceRecord) Base() Base {
	return Base{
		OwnerID:     r.OwnerID,
		RecordType:  RecordAttendance,
		SubjectCode: known(r.CourseCode),
		Term:        known(r.Term),
		Date:        known(r.Date),
		DateKey:     DateKeyFromString(r.Date),
	}
}

func (r AttendanceRecord) Text() string {
	return strings.Join([]string{
		"TYPE: attendance",
		fmt.Sprintf("Student: %s (%s)", r.FullName, r.StudentID),
		fmt.Sprintf("Course: %s - %s", r.CourseCode, r.CourseName),
		fmt.Sprintf("Term: %s | Session: %s - Date: %s - Slot: %s - Room: %s", r.Term, intOrUnknown(r.SessionNo), r.Date, r.Slot, r.Room),
		fmt.Sprintf("Lecturer: %s | Group: %s", r.Lecturer, r.Group),
		fmt.Sprintf("Status: %s | Comment: %s", r.Status, r.Comment),
	}, "\n")
}

func (r AttendanceRecord) Display() map[string]any {
	return map[string]any{
		"full_name":   r.FullName,
		"student_id":  r.StudentID,
		"course_code": r.CourseCode,
		"course_name": r.CourseName,
		"term":        r.Term,
		"session_no":  r.SessionNo,
		"date":        r.Date,
		"slot":        r.Slot,
		"room":        r.Room,
		"lecturer":    r.Lecturer,
		"group":       r.Group,
		"status":      r.Status,
		"comment":     r.Comment,
	}
}

type GradeRecord struct {
	OwnerID    string
	FullName   string
	StudentID  string
	CourseCode string
	CourseName string
	Term       string
	Item       string
	Category   string
	Weight     string
	Value      string
}

func (r GradeRecord) Base() Base {
	return Base{OwnerID: r.OwnerID, RecordType: RecordGradeDetail, SubjectCode: known(r.CourseCode), Term: known(r.Term)}
}

func (r GradeRecord) Text() string {
	return strings.Join([]string{
		"TYPE: grade detail",
		fmt.Sprintf("Student: %s (%s)", r.FullName, r.StudentID),
		fmt.Sprintf("Course: %s - %s", r.CourseCode, r.CourseName),
		fmt.Sprintf("Term: %s", r.Term),
		fmt.Sprintf("Item: %s | Category: %s", r.Item, r.Category),
		fmt.Sprintf("Weight: %s | Score: %s", r.Weight, r.Value),
	}, "\n")
}

func (r GradeRecord) Display() map[string]any {
	return map[string]any{
		"full_name":   r.FullName,
		"student_id":  r.StudentID,
		"course_code": r.CourseCode,
		"course_name": r.CourseName,
		"term":        r.Term,
		"category":    r.Category,
		"item":        r.Item,
		"weight":      r.Weight,
		"value":       numberOr(r.Value, -1),
	}
}

type CourseSummaryRecord struct {
	OwnerID    string
	FullName   string
	CourseCode string
	CourseName string
	Term       string
	AvgScore   string
	Status     string
	Summary    string
}

func (r CourseSummaryRecord) Base() Base {
	return Base{OwnerID: r.OwnerID, RecordType: RecordCourseSummary, SubjectCode: known(r.CourseCode), Term: known(r.Term)}
}

func (r CourseSummaryRecord) Text() string {
	return strings.Join([]string{
		"TYPE: course summary",
		fmt.Sprintf("Student: %s", orUnknown(r.FullName)),
		fmt.Sprintf("Course: %s - %s", r.CourseCode, r.CourseName),
		fmt.Sprintf("Term: %s", r.Term),
		fmt.Sprintf("Average score: %s", r.AvgScore),
		fmt.Sprintf("Status: %s", r.Status),
		fmt.Sprintf("Summary: %s", r.Summary),
	}, "\n")
}

func (r CourseSummaryRecord) Display() map[string]any {
	return map[string]any{
		"full_name":   r.FullName,
		"course_code": r.CourseCode,
		"course_name": r.CourseName,
		"term":        r.Term,
		"avg_score":   numberOr(r.AvgScore, -1),
		"status":      r.Status,
		"summary":     r.Summary,
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func studyMode(fullTime bool) string {
	if fullTime {
		return "full-time"
	}
	return "part-time"
}

func known(s string) string {
	if s == Unknown {
		return ""
	}
	return s
}

func orUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return Unknown
	}
	return s
}

func intOrUnknown(n int) string {
	if n < 0 {
		return Unknown
	}
	return fmt.Sprint(n)
}

func numberOr(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return f
}
