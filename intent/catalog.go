// Package intent turns a free-text question into a structured search intent.
package intent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"fapchat/model"
	"fapchat/store"
	"fapchat/types"

	"gopkg.in/yaml.v3"
)

type Subject struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
}

// Label is the text embedded for subject detection.
func (s Subject) Label() string { return s.Code + " - " + s.Name }

type RecordTypeSpec struct {
	Type        types.RecordType `yaml:"type" json:"type"`
	Description string           `yaml:"description" json:"description"`
	Keywords    []string         `yaml:"keywords" json:"keywords"`
	// UseOriginalQuery embeds the untranslated query for this type.
	UseOriginalQuery bool `yaml:"use_original_query" json:"use_original_query"`
}

type Term struct {
	Code  string `yaml:"code" json:"code"`
	Label string `yaml:"label" json:"label"`
}

// CatalogSpec is the declarative source of a Catalog. Declaration order of
// RecordTypes decides ties in type detection.
type CatalogSpec struct {
	Subjects    []Subject        `yaml:"subjects" json:"subjects"`
	RecordTypes []RecordTypeSpec `yaml:"record_types" json:"record_types"`
	Terms       []Term           `yaml:"terms" json:"terms"`
}

var ErrInvalidCatalog = errors.New("invalid catalog")

func DefaultCatalogSpec() CatalogSpec {
	return CatalogSpec{
		Subjects: []Subject{
			{"ADY201m", "AI, DS with Python & SQL"},
			{"AIL303m", "Machine Learning"},
			{"CEA201", "Computer Organization and Architecture"},
			{"CPV301", "Computer Vision"},
			{"CSD203", "Data Structures and Algorithm with Python"},
			{"CSI105", "Introduction to Computer Science"},
			{"DAP391m", "AI-DS Project"},
			{"DBI202", "Database Systems"},
			{"DSA103", "Traditional music instrument"},
			{"JPD113", "Elementary Japanese 1-A1.1"},
			{"JPD123", "Japanese Elementary 1-A1.2"},
			{"MAD101", "Discrete mathematics"},
			{"MAE101", "Mathematics for Engineering"},
			{"MAI391", "Advanced mathematics"},
			{"MAS291", "Statistics & Probability"},
			{"OTP101", "Orientation and General Training Program"},
			{"PFP191", "Programming Fundamentals with Python"},
			{"SSG104", "Communication and In-Group Working Skills"},
			{"SWE201c", "Introduction to Software Engineering"},
			{"VOV114", "Vovinam 1"},
			{"VOV124", "Vovinam 2"},
			{"VOV134", "Vovinam 3"},
		},
		RecordTypes: []RecordTypeSpec{
			{
				Type:        types.RecordStudentProfile,
				Description: "Personal information of a student: full name, date of birth, gender, address, student ID and other details about the student.",
				Keywords:    []string{"profile", "personal", "birthday", "date of birth", "address", "gender", "major", "thông tin sinh viên"},
			},
			{
				Type:        types.RecordAttendance,
				Description: "Attendance records or the class timetable and schedule of a student for each session: date, slot, room, lecturer and attendance status.",
				Keywords:    []string{"attendance", "absent", "present", "timetable", "schedule", "slot", "room", "điểm danh", "lịch học"},
			},
			{
				Type:        types.RecordGradeDetail,
				Description: "Detailed scores of a student in each assessment item with category, weight and value, for example lab 1, lab 2, progress test 1, assignment.",
				Keywords:    []string{"grade", "grades", "mark", "marks", "lab", "assignment", "progress test", "weight", "chi tiết điểm"},
			},
			{
				Type:        types.RecordCourseSummary,
				Description: "Overall summary and result of a course for a student: average score, pass or fail status and an overview of all grade components.",
				Keywords:    []string{"summary", "average", "gpa", "result", "passed", "failed", "pass", "fail", "tổng kết"},
			},
			{
				Type:        types.RecordSubjectOverview,
				Description: "queries about which subjects match certain characteristics (e.g., taught in a specific semester, related to a topic, or having certain prerequisites), or general overviews of subject goals, credits, syllabus, or curriculum structure.",
				Keywords:    []string{"overview", "objective", "goal", "credits", "semester", "prerequisite", "syllabus", "subject", "subjects"},
			},
			{
				Type:        types.RecordAssessment,
				Description: "evaluations, types of tests, exams, FE, PE, TE and grading weights",
				Keywords:    []string{"exam", "test", "quiz", "grading", "project", "evaluation", "score"},
			},
			{
				Type:        types.RecordSession,
				Description: "lecture sessions, lessons, topics covered in each week or session",
				Keywords:    []string{"week", "lesson", "lecture", "topic", "session", "class"},
			},
			{
				Type:        types.RecordMaterial,
				Description: "recommended textbooks, reference materials, slides, or other learning resources",
				Keywords:    []string{"textbook", "slide", "document", "reading", "reference", "material", "resource"},
			},
			{
				Type:        types.RecordLearningOutcome,
				Description: "learning outcome, expected knowledge, skills, or competencies students should achieve after completing the course",
				Keywords:    []string{"learn", "outcome", "skill", "competency", "ability", "achieve", "knowledge"},
			},
			{
				Type:        types.RecordGuide,
				Description: "instructions or guidance for students on how to complete tasks, assignments, projects, or use certain tools/platforms.",
				Keywords:    []string{"how to", "instruction", "guide", "tutorial", "step", "steps", "submit", "platform", "tool", "usage", "help", "support"},
			},
			{
				Type:             types.RecordStudentList,
				Description:      "list of students enrolled in the course, including name, student ID, and email",
				Keywords:         []string{"student list", "students", "mssv", "email", "class list", "enrolled", "danh sách sinh viên"},
				UseOriginalQuery: true,
			},
			{
				Type:        types.RecordConstructiveQuestion,
				Description: "thought-provoking questions",
				Keywords:    []string{"why", "what if", "critical", "discussion", "reflect", "ethical"},
			},
		},
		Terms: []Term{
			{"Fall2023", "Fall 2023"},
			{"Spring2024", "Spring 2024"},
			{"Summer2024", "Summer 2024"},
			{"Fall2024", "Fall 2024"},
			{"Spring2025", "Spring 2025"},
		},
	}
}

// LoadCatalogSpec reads a YAML catalog. A missing file yields the defaults.
func LoadCatalogSpec(path string) (CatalogSpec, error) {
	if path == "" {
		return DefaultCatalogSpec(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultCatalogSpec(), nil
		}
		return CatalogSpec{}, err
	}
	var spec CatalogSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return CatalogSpec{}, fmt.Errorf("%w: %s: %v", ErrInvalidCatalog, path, err)
	}
	def := DefaultCatalogSpec()
	if len(spec.Subjects) == 0 {
		spec.Subjects = def.Subjects
	}
	if len(spec.RecordTypes) == 0 {
		spec.RecordTypes = def.RecordTypes
	}
	if len(spec.Terms) == 0 {
		spec.Terms = def.Terms
	}
	return spec, nil
}

func (s CatalogSpec) validate() error {
	seen := map[string]bool{}
	for _, sub := range s.Subjects {
		key := strings.ToLower(sub.Code)
		if sub.Code == "" || seen[key] {
			return fmt.Errorf("%w: empty or duplicate subject %q", ErrInvalidCatalog, sub.Code)
		}
		seen[key] = true
	}
	seenType := map[types.RecordType]bool{}
	for _, rt := range s.RecordTypes {
		if rt.Type == "" || seenType[rt.Type] {
			return fmt.Errorf("%w: empty or duplicate record type %q", ErrInvalidCatalog, rt.Type)
		}
		if strings.TrimSpace(rt.Description) == "" {
			return fmt.Errorf("%w: record type %q has no description", ErrInvalidCatalog, rt.Type)
		}
		seenType[rt.Type] = true
	}
	seenTerm := map[string]bool{}
	for _, t := range s.Terms {
		key := strings.ToLower(t.Code)
		if t.Code == "" || seenTerm[key] {
			return fmt.Errorf("%w: empty or duplicate term %q", ErrInvalidCatalog, t.Code)
		}
		seenTerm[key] = true
	}
	return nil
}

// Catalog is the immutable set of known subjects, record types and terms,
// with their label embeddings precomputed.
type Catalog struct {
	spec        CatalogSpec
	subjectVecs [][]float32
	typeVecs    [][]float32
	keywords    [][]*regexp.Regexp
	subjects    map[string]int
	recordTypes map[types.RecordType]int
	terms       map[string]int
}

// BuildCatalog validates spec and embeds every subject label and type
// description once.
func BuildCatalog(ctx context.Context, emb model.Embedder, spec CatalogSpec) (*Catalog, error) {
	if err := spec.validate(); err != nil {
		return nil, err
	}

	c := &Catalog{
		spec:        cloneSpec(spec),
		subjects:    make(map[string]int, len(spec.Subjects)),
		recordTypes: make(map[types.RecordType]int, len(spec.RecordTypes)),
		terms:       make(map[string]int, len(spec.Terms)),
	}

	texts := make([]string, 0, len(spec.Subjects)+len(spec.RecordTypes))
	for i, s := range c.spec.Subjects {
		c.subjects[strings.ToLower(s.Code)] = i
		texts = append(texts, s.Label())
	}
	for i, rt := range c.spec.RecordTypes {
		c.recordTypes[rt.Type] = i
		texts = append(texts, rt.Description)

		matchers := make([]*regexp.Regexp, 0, len(rt.Keywords))
		for _, kw := range rt.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				matchers = append(matchers, keywordPattern(kw))
			}
		}
		c.keywords = append(c.keywords, matchers)
	}
	for i, t := range c.spec.Terms {
		c.terms[strings.ToLower(t.Code)] = i
	}

	if len(texts) > 0 {
		vecs, err := emb.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed catalog: %w", err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embed catalog: %w", model.ErrEmbeddingCount)
		}
		c.subjectVecs = vecs[:len(spec.Subjects)]
		c.typeVecs = vecs[len(spec.Subjects):]
	}
	return c, nil
}

// Rebuild returns a new catalog built from spec. The receiver is unchanged.
func (c *Catalog) Rebuild(ctx context.Context, emb model.Embedder, spec CatalogSpec) (*Catalog, error) {
	return BuildCatalog(ctx, emb, spec)
}

// keywordPattern matches kw case-insensitively between non-word runes.
func keywordPattern(kw string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_])` + regexp.QuoteMeta(kw) + `(?:$|[^\p{L}\p{N}_])`)
}

func cloneSpec(s CatalogSpec) CatalogSpec {
	out := CatalogSpec{
		Subjects:    append([]Subject(nil), s.Subjects...),
		RecordTypes: make([]RecordTypeSpec, len(s.RecordTypes)),
		Terms:       append([]Term(nil), s.Terms...),
	}
	for i, rt := range s.RecordTypes {
		rt.Keywords = append([]string(nil), rt.Keywords...)
		out.RecordTypes[i] = rt
	}
	return out
}

// Spec returns a copy of the catalog's source.
func (c *Catalog) Spec() CatalogSpec { return cloneSpec(c.spec) }

// Subject returns the canonical subject for code, matched case-insensitively.
func (c *Catalog) Subject(code string) (Subject, bool) {
	i, ok := c.subjects[strings.ToLower(strings.TrimSpace(code))]
	if !ok {
		return Subject{}, false
	}
	return c.spec.Subjects[i], true
}

func (c *Catalog) RecordType(t types.RecordType) (RecordTypeSpec, bool) {
	i, ok := c.recordTypes[t]
	if !ok {
		return RecordTypeSpec{}, false
	}
	return c.spec.RecordTypes[i], true
}

// Term returns the canonical term for code. Spaces are ignored so that
// "Fall 2024" and "fall2024" both resolve.
func (c *Catalog) Term(code string) (Term, bool) {
	key := strings.ToLower(strings.Join(strings.Fields(code), ""))
	i, ok := c.terms[key]
	if !ok {
		return Term{}, false
	}
	return c.spec.Terms[i], true
}

// UsesOriginalQuery reports whether queries of type t are embedded
// untranslated.
func (c *Catalog) UsesOriginalQuery(t types.RecordType) bool {
	rt, ok := c.RecordType(t)
	return ok && rt.UseOriginalQuery
}

type SubjectMatch struct {
	Code  string
	Score float64
}

// MatchSubjects returns at most k subjects whose label similarity to vec is
// at least threshold, best first. Equal scores keep declaration order.
func (c *Catalog) MatchSubjects(vec []float32, k int, threshold float64) []SubjectMatch {
	matches := make([]SubjectMatch, 0, len(c.subjectVecs))
	for i, sv := range c.subjectVecs {
		matches = append(matches, SubjectMatch{Code: c.spec.Subjects[i].Code, Score: store.Cosine32(vec, sv)})
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Score >= threshold {
			out = append(out, m)
		}
	}
	return out
}

type TypeScore struct {
	Type      types.RecordType
	Embedding float64
	Hits      int
	Score     float64
}

// ScoreTypes blends description similarity with keyword hits normalised by
// the best hit count. Results are in declaration order.
func (c *Catalog) ScoreTypes(vec []float32, text string, embWeight, kwWeight float64) []TypeScore {
	scores := make([]TypeScore, len(c.spec.RecordTypes))
	maxHits := 0
	for i, rt := range c.spec.RecordTypes {
		hits := 0
		for _, re := range c.keywords[i] {
			if re.MatchString(text) {
				hits++
			}
		}
		maxHits = max(maxHits, hits)
		scores[i] = TypeScore{Type: rt.Type, Embedding: store.Cosine32(vec, c.typeVecs[i]), Hits: hits}
	}
	for i := range scores {
		kw := 0.0
		if maxHits > 0 {
			kw = float64(scores[i].Hits) / float64(maxHits)
		}
		scores[i].Score = embWeight*scores[i].Embedding + kwWeight*kw
	}
	return scores
}

// BestType returns the highest blended score; the first-declared type wins a
// tie. ok is false when the catalog is empty or the best score is below
// minScore.
func (c *Catalog) BestType(vec []float32, text string, embWeight, kwWeight, minScore float64) (TypeScore, bool) {
	scores := c.ScoreTypes(vec, text, embWeight, kwWeight)
	if len(scores) == 0 {
		return TypeScore{}, false
	}
	best := scores[0]
	for _, s := range scores[1:] {
		if s.Score > best.Score {
			best = s
		}
	}
	return best, best.Score >= minScore
}
