// Package points breaks down the story points of every issue related to a set
// of parent issues by resolution outcome and by Dev/QA work.
package points

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/pkg/jira"
)

// Work categories.
const (
	Dev = "Dev"
	QA  = "QA"
)

// Resolution outcomes.
const (
	Positive   = "positive"
	Negative   = "negative"
	Unresolved = "unresolved"
)

var (
	// ErrTooManyIssues is returned when the related-issue query matches more
	// issues than the calculator allows.
	ErrTooManyIssues = eris.New("points: related issues exceed limit")

	// ErrInvalidKey is returned for a key that is not PROJECT-123 shaped.
	ErrInvalidKey = eris.New("points: invalid issue key")

	issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-[0-9]+$`)

	nonWorkItemTypes = []string{"epic", "feature", "initiative", "x-feat", "capability"}
	qaTypes          = []string{"Test", "Test Plan"}

	// fallbackPointFields are tried, in order, when the configured field
	// carries no value.
	fallbackPointFields = []string{"customfield_10002", "customfield_10016", "customfield_10020"}
)

// Bucket holds Dev and QA point totals plus the JQL that lists each one.
type Bucket struct {
	Dev      float64 `json:"dev"`
	QA       float64 `json:"qa"`
	DevQuery string  `json:"dev_query,omitempty"`
	QAQuery  string  `json:"qa_query,omitempty"`
}

// Breakdown is the result of Calculate.
type Breakdown struct {
	IssueKeys  []string `json:"issue_keys"`
	Positive   Bucket   `json:"positive"`
	Negative   Bucket   `json:"negative"`
	Unresolved Bucket   `json:"unresolved"`
	Total      Bucket   `json:"total"`
	Counted    int      `json:"counted"`
	Skipped    int      `json:"skipped"`
}

// Calculator runs the related-issue query and tallies story points.
type Calculator struct {
	client    jira.Client
	field     string
	positive  []string
	maxIssues int
}

// NewCalculator creates a Calculator from cfg.
func NewCalculator(client jira.Client, cfg config.PointsConfig) *Calculator {
	c := &Calculator{
		client:    client,
		field:     cfg.Field,
		positive:  cfg.PositiveResolutions,
		maxIssues: cfg.MaxIssues,
	}
	if c.field == "" {
		c.field = fallbackPointFields[0]
	}
	if len(c.positive) == 0 {
		c.positive = []string{"Fixed", "Done", "Resolved", "Complete"}
	}
	if c.maxIssues <= 0 {
		c.maxIssues = 1000
	}
	return c
}

// Calculate tallies story points over every issue related to keys. Epics,
// features and similar planning items are skipped.
func (c *Calculator) Calculate(ctx context.Context, keys []string) (*Breakdown, error) {
	keys, err := normalizeKeys(keys)
	if err != nil {
		return nil, err
	}
	b := &Breakdown{IssueKeys: keys}
	if len(keys) == 0 {
		return b, nil
	}

	jql := RelatedJQL(keys)
	fields := c.requestFields()
	issues, err := c.search(ctx, jql, fields)
	if err != nil {
		return nil, err
	}

	for i := range issues {
		is := &issues[i]
		typeName := objectName(is, "issuetype")
		if !IsWorkItem(typeName) {
			b.Skipped++
			continue
		}
		bucket := b.bucket(ClassifyResolution(objectName(is, "resolution"), c.positive))
		pts := c.storyPoints(is)
		if WorkCategory(typeName) == QA {
			bucket.QA += pts
		} else {
			bucket.Dev += pts
		}
		b.Counted++
	}

	b.Total = Bucket{
		Dev: b.Positive.Dev + b.Negative.Dev + b.Unresolved.Dev,
		QA:  b.Positive.QA + b.Negative.QA + b.Unresolved.QA,
	}
	for _, res := range []string{Positive, Negative, Unresolved} {
		bk := b.bucket(res)
		bk.DevQuery = CategoryJQL(keys, res, Dev, c.positive)
		bk.QAQuery = CategoryJQL(keys, res, QA, c.positive)
	}

	zap.L().Info("points: breakdown calculated",
		zap.Strings("issues", keys),
		zap.Int("counted", b.Counted),
		zap.Int("skipped", b.Skipped),
		zap.Float64("total_dev", b.Total.Dev),
		zap.Float64("total_qa", b.Total.QA),
	)
	return b, nil
}

func (b *Breakdown) bucket(resolution string) *Bucket {
	switch resolution {
	case Positive:
		return &b.Positive
	case Negative:
		return &b.Negative
	default:
		return &b.Unresolved
	}
}

// search refuses queries over the limit before paging through them.
func (c *Calculator) search(ctx context.Context, jql string, fields []string) ([]jira.Issue, error) {
	first, err := c.client.Search(ctx, jql, fields, 0, 0)
	if err != nil {
		return nil, eris.Wrap(err, "points: search related issues")
	}
	if first.Total > c.maxIssues {
		return nil, eris.Wrapf(ErrTooManyIssues, "%d related issues (max %d)", first.Total, c.maxIssues)
	}
	if len(first.Issues) >= first.Total {
		return first.Issues, nil
	}
	all, err := c.client.SearchAll(ctx, jql, fields)
	if err != nil {
		return nil, eris.Wrap(err, "points: search related issues")
	}
	return all, nil
}

func (c *Calculator) requestFields() []string {
	out := []string{"key", "issuetype", "resolution", c.field}
	for _, f := range fallbackPointFields {
		if !slices.Contains(out, f) {
			out = append(out, f)
		}
	}
	return out
}

// storyPoints reads the configured points field, then the common fallbacks.
// Missing or non-numeric values count as zero.
func (c *Calculator) storyPoints(is *jira.Issue) float64 {
	if v, ok := numberField(is, c.field); ok {
		return v
	}
	for _, f := range fallbackPointFields {
		if f == c.field {
			continue
		}
		if v, ok := numberField(is, f); ok {
			return v
		}
	}
	zap.L().Debug("points: no story points", zap.String("issue", is.Key))
	return 0
}

func numberField(is *jira.Issue, id string) (float64, bool) {
	raw, ok := is.Fields[id]
	if !ok {
		return 0, false
	}
	raw = bytes.TrimSpace(raw)
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			return v, true
		}
	}
	return 0, false
}

// objectName reads the name of an object-valued field such as issuetype.
func objectName(is *jira.Issue, id string) string {
	raw, ok := is.Fields[id]
	if !ok {
		return ""
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Name
	}
	s, _ := is.FieldText(id)
	return s
}

// IsWorkItem reports whether an issue type carries deliverable work. Unknown
// types count as work.
func IsWorkItem(typeName string) bool {
	lower := strings.ToLower(strings.TrimSpace(typeName))
	for _, t := range nonWorkItemTypes {
		if strings.Contains(lower, t) {
			return false
		}
	}
	return true
}

// WorkCategory returns QA for Test and Test Plan issues, Dev otherwise.
func WorkCategory(typeName string) string {
	lower := strings.ToLower(strings.TrimSpace(typeName))
	if lower == "test" || (strings.Contains(lower, "test") && strings.Contains(lower, "plan")) {
		return QA
	}
	return Dev
}

// ClassifyResolution returns Positive for a resolution in positive (case
// insensitive), Unresolved for none, Negative otherwise.
func ClassifyResolution(name string, positive []string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return Unresolved
	}
	for _, p := range positive {
		if strings.EqualFold(p, name) {
			return Positive
		}
	}
	return Negative
}

// RelatedJQL selects keys together with their portfolio children, the
// issues in those children's epics and every subtask below them.
func RelatedJQL(keys []string) string {
	if len(keys) == 0 {
		return ""
	}
	list := strings.Join(keys, ", ")
	parts := []string{
		fmt.Sprintf("key IN (%s)", list),
		fmt.Sprintf(`("Parent Link" IN (%s))`, list),
		fmt.Sprintf(`("FEAT ID" ~ "%s")`, list),
		fmt.Sprintf(`("FEAT Number" IN (%s))`, list),
	}
	for _, k := range keys {
		children := fmt.Sprintf(`portfolioChildrenOf("key=%s")`, k)
		inEpics := fmt.Sprintf(`issuesInEpics("issueFunction in portfolioChildrenOf('key=%s')")`, k)
		parts = append(parts,
			fmt.Sprintf("(issueFunction in %s)", children),
			fmt.Sprintf("(issueFunction in %s)", inEpics),
			fmt.Sprintf(`(issueFunction in subtasksOf("key=%s"))`, k),
			fmt.Sprintf(`(issueFunction in subtasksOf("issueFunction in %s"))`, strings.ReplaceAll(inEpics, `"`, `\"`)),
		)
	}
	return strings.Join(parts, " OR ")
}

// CategoryJQL narrows RelatedJQL to one resolution outcome and work category.
func CategoryJQL(keys []string, resolution, category string, positive []string) string {
	quoted := make([]string, len(positive))
	for i, p := range positive {
		quoted[i] = strconv.Quote(p)
	}
	resList := strings.Join(quoted, ", ")

	var resFilter string
	switch resolution {
	case Positive:
		resFilter = fmt.Sprintf("resolution IN (%s)", resList)
	case Negative:
		resFilter = fmt.Sprintf("resolution IS NOT EMPTY AND resolution NOT IN (%s)", resList)
	default:
		resFilter = "resolution IS EMPTY"
	}

	typeFilter := `issuetype NOT IN ("Test", "Test Plan")`
	if category == QA {
		typeFilter = `issuetype IN ("Test", "Test Plan")`
	}

	return fmt.Sprintf(`(%s) AND issuetype NOT IN ("Epic", "Feature", "Initiative", "X-FEAT", "Capability") AND %s AND %s`,
		RelatedJQL(keys), typeFilter, resFilter)
}

// SearchURL returns the tracker's issue navigator URL for jql.
func SearchURL(baseURL, jql string) string {
	return strings.TrimRight(baseURL, "/") + "/issues/?jql=" + url.QueryEscape(jql)
}

func normalizeKeys(keys []string) ([]string, error) {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.ToUpper(strings.TrimSpace(k))
		if k == "" || slices.Contains(out, k) {
			continue
		}
		if !issueKeyPattern.MatchString(k) {
			return nil, eris.Wrapf(ErrInvalidKey, "%q", k)
		}
		out = append(out, k)
	}
	return out, nil
}
