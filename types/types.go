package types

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fapchat/hasher"

	"github.com/google/uuid"
)

type RecordType string

// Personal academic records.
const (
	RecordStudentProfile RecordType = "student-profile"
	RecordAttendance     RecordType = "attendance"
	RecordGradeDetail    RecordType = "grade-detail"
	RecordCourseSummary  RecordType = "course-summary"
)

// General-knowledge curriculum records.
const (
	RecordSubjectOverview      RecordType = "subject-overview"
	RecordAssessment           RecordType = "assessment"
	RecordSession              RecordType = "session"
	RecordMaterial             RecordType = "material"
	RecordLearningOutcome      RecordType = "learning-outcome"
	RecordGuide                RecordType = "guide"
	RecordStudentList          RecordType = "student-list"
	RecordConstructiveQuestion RecordType = "constructive-question"
)

// Payload keys usable in filters and filter indexes.
const (
	FieldOwnerID     = "owner_id"
	FieldRecordType  = "record_type"
	FieldSubjectCode = "subject_code"
	FieldTerm        = "term"
	FieldDateKey     = "date_key"
	FieldContentHash = "content_hash"
)

// FilterFields lists every payload key that gets a filter index.
var FilterFields = []string{FieldOwnerID, FieldRecordType, FieldTerm, FieldSubjectCode, FieldDateKey, FieldContentHash}

// Unknown is rendered in place of any missing value.
const Unknown = "unknown"

var documentNamespace = uuid.MustParse("6f1d4c1e-3a7b-5b9e-9c2a-0c4d2f8e7a51")

// DocumentID derives the stable id of the document holding hash for owner.
func DocumentID(ownerID, contentHash string) uuid.UUID {
	return uuid.NewSHA1(documentNamespace, []byte(ownerID+"|"+contentHash))
}

// Base holds the filterable fields every record carries. Empty strings mean
// "not set"; DateKey is YYYYMMDD or 0.
type Base struct {
	OwnerID     string
	RecordType  RecordType
	SubjectCode string
	Term        string
	Date        string
	DateKey     int
}

// Record is one typed source row ready to become a Document.
type Record interface {
	Base() Base
	Text() string
	Display() map[string]any
}

type Document struct {
	ID          uuid.UUID
	Vector      []float32
	ContentHash string
	Base
	Text    string
	Display map[string]any
}

type ScoredDocument struct {
	Document Document
	Score    float64
}

var (
	ErrNoRecordType = errors.New("record type is required")
	ErrEmptyText    = errors.New("record text is empty")
)

// NewDocument validates rec and fixes its hash and id. The vector is filled
// in later by the embedding step.
func NewDocument(rec Record) (Document, error) {
	base := rec.Base()
	if base.RecordType == "" {
		return Document{}, ErrNoRecordType
	}
	text := hasher.Canonical(rec.Text())
	if text == "" {
		return Document{}, ErrEmptyText
	}
	hash := hasher.Hash(text)
	return Document{
		ID:          DocumentID(base.OwnerID, hash),
		ContentHash: hash,
		Base:        base,
		Text:        text,
		Display:     rec.Display(),
	}, nil
}

// Keyword returns the string payload value stored under key.
func (d Document) Keyword(key string) (string, bool) {
	switch key {
	case FieldOwnerID:
		return d.OwnerID, true
	case FieldRecordType:
		return string(d.RecordType), true
	case FieldSubjectCode:
		return d.SubjectCode, true
	case FieldTerm:
		return d.Term, true
	case FieldContentHash:
		return d.ContentHash, true
	case FieldDateKey:
		return strconv.Itoa(d.DateKey), true
	}
	return "", false
}

// Number returns the integer payload value stored under key.
func (d Document) Number(key string) (int, bool) {
	if key == FieldDateKey && d.DateKey != 0 {
		return d.DateKey, true
	}
	return 0, false
}

// ParseDate reads DD/MM/YYYY.
func ParseDate(s string) (time.Time, error) {
	return time.ParseInLocation("02/01/2006", strings.TrimSpace(s), time.Local)
}

func FormatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

// DateKeyOf turns a calendar day into YYYYMMDD.
func DateKeyOf(t time.Time) int {
	return t.Year()*10000 + int(t.Month())*100 + t.Day()
}

// DateKeyFromString converts DD/MM/YYYY into YYYYMMDD, 0 when unparseable.
func DateKeyFromString(s string) int {
	t, err := ParseDate(s)
	if err != nil {
		return 0
	}
	return DateKeyOf(t)
}

func (d Document) String() string {
	return fmt.Sprintf("%s[%s %s]", d.RecordType, d.SubjectCode, d.ID)
}
