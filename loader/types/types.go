package types

import (
	"fmt"
	"strings"
	"time"
)

// Kind names one CSV export of the portal.
type Kind string

const (
	KindProfile       Kind = "profile"
	KindAttendance    Kind = "attendance"
	KindGrade         Kind = "grade"
	KindCourseSummary Kind = "course-summary"
)

var Kinds = []Kind{KindProfile, KindAttendance, KindGrade, KindCourseSummary}

var kindAliases = map[string]Kind{
	"profile":            KindProfile,
	"student_profile":    KindProfile,
	"attendance":         KindAttendance,
	"attendance_reports": KindAttendance,
	"grade":              KindGrade,
	"grades":             KindGrade,
	"grade_details":      KindGrade,
	"course-summary":     KindCourseSummary,
	"course_summary":     KindCourseSummary,
	"course_summaries":   KindCourseSummary,
}

// ParseKind accepts the kind names and the export table names.
func ParseKind(s string) (Kind, error) {
	if k, ok := kindAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown record kind %q", s)
}

// Options apply to every row of one ingestion.
type Options struct {
	// OwnerID is used when a row carries no student id.
	OwnerID string
	// DisplayName replaces the name column when set.
	DisplayName string
}

type RowErrorPolicy string

const (
	SkipRowErrors  RowErrorPolicy = "skip"
	AbortRowErrors RowErrorPolicy = "abort"
)

// Config is the drop-folder layout for the watcher.
type Config struct {
	SourceDir      string
	ArchiveDir     string
	BadDir         string
	MonitoringTime time.Duration
}
