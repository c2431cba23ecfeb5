package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

type Validater interface {
	Validate() map[string]string
}

type SearchParams struct {
	Query   string `json:"query" validate:"required,notblank"`
	OwnerID string `json:"owner_id" validate:"omitempty,max=64"`
	History []Turn `json:"history" validate:"omitempty,max=20,dive"`
}

type IngestParams struct {
	OwnerID     string `form:"owner_id" validate:"omitempty,max=64"`
	DisplayName string `form:"display_name" validate:"omitempty,max=128"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	return v
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *SearchParams) Validate() map[string]string {
	return validationErrors(validate.Struct(params))
}

func (params *IngestParams) Validate() map[string]string {
	return validationErrors(validate.Struct(params))
}

func validationErrors(err error) map[string]string {
	if err == nil {
		return nil
	}
	errs, ok := err.(validator.ValidationErrors)
	if !ok {
		return map[string]string{"request": err.Error()}
	}
	errors := make(map[string]string)
	for _, e := range errs {
		errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return errors
}

type ResultStatus string

const (
	StatusOK           ResultStatus = "ok"
	StatusNoResults    ResultStatus = "no_results"
	StatusSearchFailed ResultStatus = "search_failed"
	StatusUnresolved   ResultStatus = "unresolved"
)

type RankedResult struct {
	Rank     int
	Score    float64
	Document Document
}

// QueryResult is the outcome of one query. Results is never nil.
type QueryResult struct {
	Intent          Intent
	Results         []RankedResult
	Summary         string
	Status          ResultStatus
	SynthesisFailed bool
}

type SearchResponse struct {
	TranslatedQuery  string         `json:"translated_query"`
	DetectedType     *string        `json:"detected_type"`
	DetectedSubject  []string       `json:"detected_subject"`
	DetectedSemester *string        `json:"detected_semester"`
	Results          []ResultItem   `json:"results"`
	Summary          string         `json:"summary"`
	Status           ResultStatus   `json:"status"`
	IntentSource     IntentSource   `json:"intent_source"`
	Unresolved       []InvalidField `json:"unresolved,omitempty"`
	Timestamp        time.Time      `json:"timestamp"`
}

type ResultItem struct {
	Rank        int            `json:"rank"`
	Score       float64        `json:"score"`
	RecordType  RecordType     `json:"record_type"`
	SubjectCode string         `json:"subject_code,omitempty"`
	Term        string         `json:"term,omitempty"`
	Date        string         `json:"date,omitempty"`
	Content     string         `json:"content"`
	Fields      map[string]any `json:"fields,omitempty"`
}

func NewSearchResponse(res *QueryResult, now time.Time) SearchResponse {
	resp := SearchResponse{
		TranslatedQuery: res.Intent.TranslatedQuery,
		DetectedSubject: res.Intent.SubjectCodes,
		Results:         make([]ResultItem, 0, len(res.Results)),
		Summary:         res.Summary,
		Status:          res.Status,
		IntentSource:    res.Intent.Source,
		Unresolved:      res.Intent.Invalid,
		Timestamp:       now,
	}
	if resp.DetectedSubject == nil {
		resp.DetectedSubject = []string{}
	}
	if res.Intent.RecordType != "" {
		t := string(res.Intent.RecordType)
		resp.DetectedType = &t
	}
	switch {
	case res.Intent.Term != "":
		term := res.Intent.Term
		resp.DetectedSemester = &term
	case res.Intent.TimeRange != nil:
		span := res.Intent.TimeRange.String()
		resp.DetectedSemester = &span
	}
	for _, r := range res.Results {
		resp.Results = append(resp.Results, ResultItem{
			Rank:        r.Rank,
			Score:       r.Score,
			RecordType:  r.Document.RecordType,
			SubjectCode: r.Document.SubjectCode,
			Term:        r.Document.Term,
			Date:        r.Document.Date,
			Content:     r.Document.Text,
			Fields:      r.Document.Display,
		})
	}
	return resp
}

type IngestResponse struct {
	Kind      string   `json:"kind"`
	Rows      int      `json:"rows"`
	RowErrors []string `json:"row_errors,omitempty"`
	Submitted int      `json:"submitted"`
	Skipped   int      `json:"skipped"`
	Written   int      `json:"written"`
	Failed    int      `json:"failed"`
}
