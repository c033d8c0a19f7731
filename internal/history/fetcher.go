// Package history extracts, reconciles and measures the change history of
// date fields on tracker issues.
package history

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/internal/dates"
	"github.com/sells-group/datemover/internal/resilience"
	"github.com/sells-group/datemover/internal/summary"
	"github.com/sells-group/datemover/pkg/jira"
)

const (
	defaultConcurrency = 4
	notFoundMessage    = "issue not found or not accessible"

	// KindParse marks a field whose current value is not a date.
	KindParse = "parse"
)

// ErrTooManyIssues is returned when a query resolves to more issues than the
// caller allows.
var ErrTooManyIssues = eris.New("history: query matches too many issues")

var keyOnly = []string{"key"}

// Item outcomes reported to the Recorder.
const (
	OutcomeOK       = "ok"
	OutcomeNotFound = "not_found"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
)

// Recorder receives per-item and per-field counts. monitoring.Metrics
// implements it.
type Recorder interface {
	ObserveItem(outcome string)
	ObserveField(changes, unparseable int)
}

type nopRecorder struct{}

func (nopRecorder) ObserveItem(string)    {}
func (nopRecorder) ObserveField(int, int) {}

// Failure describes why an item or field could not be processed.
type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Preview string `json:"preview,omitempty"`
}

// FieldResult is the reconciled state of one date field on one issue.
type FieldResult struct {
	FieldID     FieldID  `json:"field_id"`
	Name        string   `json:"name"`
	Current     string   `json:"current"`
	CurrentRaw  string   `json:"current_raw"`
	History     []string `json:"history"`
	HistoryRaw  []string `json:"history_raw"`
	ChangeCount int      `json:"change_count"`
	Unparseable []string `json:"unparseable,omitempty"`
	Slip        *Slip    `json:"slip"`
	Error       *Failure `json:"error,omitempty"`
}

// Note is a free-text status field condensed for reports.
type Note struct {
	FieldID FieldID `json:"field_id"`
	Name    string  `json:"name"`
	Text    string  `json:"text"`
	Summary string  `json:"summary"`
	Source  string  `json:"source"`
}

// ItemResult holds every configured date field of one issue. Error is set
// when the issue itself could not be read; Fields is then empty.
type ItemResult struct {
	IssueKey string        `json:"issue_key"`
	Summary  string        `json:"summary,omitempty"`
	Fields   []FieldResult `json:"fields"`
	Notes    []Note        `json:"notes,omitempty"`
	Error    *Failure      `json:"error,omitempty"`
}

// Fetcher reads issues through the tracker client and reconciles their
// configured date fields.
type Fetcher struct {
	client      jira.Client
	fields      []config.TrackedField
	notes       []config.TrackedField
	summarizer  summary.Summarizer
	concurrency int
	recorder    Recorder
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithConcurrency bounds how many issues are processed at once.
func WithConcurrency(n int) Option {
	return func(f *Fetcher) {
		if n > 0 {
			f.concurrency = n
		}
	}
}

// WithRecorder attaches a metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(f *Fetcher) {
		if r != nil {
			f.recorder = r
		}
	}
}

// WithSummarizer condenses the fields marked summarize in the field set.
// Without one those fields are not read.
func WithSummarizer(s summary.Summarizer) Option {
	return func(f *Fetcher) {
		f.summarizer = s
	}
}

// NewFetcher creates a fetcher for the date fields in fs.
func NewFetcher(client jira.Client, fs *config.FieldSet, opts ...Option) *Fetcher {
	f := &Fetcher{
		client:      client,
		concurrency: defaultConcurrency,
		recorder:    nopRecorder{},
	}
	for _, o := range opts {
		o(f)
	}
	if fs != nil {
		f.fields = fs.DateFields()
		if f.summarizer != nil {
			f.notes = fs.SummaryFields()
		}
	}
	return f
}

// FetchIssue processes one issue. Failures are reported on the result.
func (f *Fetcher) FetchIssue(ctx context.Context, key string) ItemResult {
	key = strings.TrimSpace(key)
	res := ItemResult{IssueKey: key, Fields: []FieldResult{}}
	log := zap.L().With(zap.String("issue", key))

	if len(f.fields) == 0 && len(f.notes) == 0 {
		log.Warn("history: no date fields configured")
		f.recorder.ObserveItem(OutcomeOK)
		return res
	}

	issue, err := f.client.Issue(ctx, key, f.requestFields())
	if err != nil {
		res.Error = itemFailure(err)
		outcome := OutcomeFailed
		switch resilience.Classify(err) {
		case resilience.KindNotFound:
			outcome = OutcomeNotFound
			log.Warn("history: " + notFoundMessage)
		case resilience.KindCanceled:
			outcome = OutcomeCanceled
		default:
			log.Error("history: fetch issue failed", zap.String("kind", res.Error.Kind), zap.Error(err))
		}
		f.recorder.ObserveItem(outcome)
		return res
	}

	var names *jira.FieldIndex
	if f.needsFieldIndex(issue) {
		names = f.fieldIndex(ctx)
	}
	res.Summary, _ = issue.FieldText("summary")

	for _, tf := range f.fields {
		fr, ok := f.reconcileField(issue, tf, names)
		if !ok {
			continue
		}
		res.Fields = append(res.Fields, fr)
	}
	if err := f.summarize(ctx, issue, names, &res); err != nil {
		res.Error = itemFailure(err)
		f.recorder.ObserveItem(OutcomeCanceled)
		return res
	}

	log.Debug("history: issue processed", zap.Int("fields", len(res.Fields)))
	f.recorder.ObserveItem(OutcomeOK)
	return res
}

// FetchIssues processes keys concurrently and returns results in key order.
// Duplicate and blank keys are dropped. The error is non-nil only when ctx
// ends before every issue was processed.
func (f *Fetcher) FetchIssues(ctx context.Context, keys []string) ([]ItemResult, error) {
	keys = uniqueKeys(keys)
	results := make([]ItemResult, len(keys))
	if len(keys) == 0 {
		return results, nil
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			results[i] = f.FetchIssue(gctx, key)
			return nil // per-item failures stay on the result
		})
	}
	_ = g.Wait()

	zap.L().Info("history: batch complete",
		zap.Int("issues", len(keys)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if err := ctx.Err(); err != nil {
		return results, eris.Wrap(err, "history: batch abandoned")
	}
	return results, nil
}

// FetchJQL resolves jql to issue keys and processes them. When maxIssues is
// positive and the query matches more issues, nothing is processed and the
// error wraps ErrTooManyIssues.
func (f *Fetcher) FetchJQL(ctx context.Context, jql string, maxIssues int) ([]ItemResult, error) {
	first, err := f.client.Search(ctx, jql, keyOnly, 0, 0)
	if err != nil {
		return nil, eris.Wrap(err, "history: search")
	}
	if maxIssues > 0 && first.Total > maxIssues {
		return nil, eris.Wrapf(ErrTooManyIssues, "jql matches %d issues (max %d)", first.Total, maxIssues)
	}

	issues := first.Issues
	if len(issues) < first.Total {
		if issues, err = f.client.SearchAll(ctx, jql, keyOnly); err != nil {
			return nil, eris.Wrap(err, "history: search")
		}
	}
	keys := make([]string, 0, len(issues))
	for _, is := range issues {
		keys = append(keys, is.Key)
	}
	if maxIssues > 0 && len(keys) > maxIssues {
		keys = keys[:maxIssues]
	}
	return f.FetchIssues(ctx, keys)
}

// Fields returns the date fields the fetcher reconciles.
func (f *Fetcher) Fields() []config.TrackedField {
	return f.fields
}

func (f *Fetcher) reconcileField(issue *jira.Issue, tf config.TrackedField, names *jira.FieldIndex) (FieldResult, bool) {
	id := NormalizeFieldID(tf.ID)
	raw, ok := issue.FieldText(string(id))
	if !ok {
		return FieldResult{}, false
	}

	fr := FieldResult{
		FieldID:    id,
		Name:       fieldName(tf, id, names),
		Current:    raw,
		CurrentRaw: raw,
		History:    []string{},
		HistoryRaw: []string{},
	}

	cur, err := dates.Parse(raw)
	if err != nil {
		zap.L().Warn("history: current value is not a date",
			zap.String("issue", issue.Key),
			zap.String("field", string(id)),
			zap.String("value", raw),
		)
		fr.Error = &Failure{Kind: KindParse, Message: err.Error()}
		return fr, true
	}
	fr.Current = cur.String()

	if !tf.TrackHistory {
		return fr, true
	}

	var resolver NameResolver
	if names != nil {
		resolver = names
	}
	events := Extract(issue.Histories(), id, resolver)
	h := Reconcile(raw, events)

	fr.History = h.Displayed
	fr.HistoryRaw = h.Raw
	fr.ChangeCount = h.ChangeCount
	fr.Unparseable = h.Unparseable
	fr.Slip = h.Slip()
	f.recorder.ObserveField(h.ChangeCount, len(h.Unparseable))
	return fr, true
}

// requestFields lists the fields to read with each issue.
func (f *Fetcher) requestFields() []string {
	out := []string{"summary"}
	for _, tf := range f.fields {
		out = append(out, string(NormalizeFieldID(tf.ID)))
	}
	for _, tf := range f.notes {
		out = append(out, string(NormalizeFieldID(tf.ID)))
	}
	return out
}

// summarize condenses each non-empty note field onto res. Summarizer errors
// other than cancellation drop the note; cancellation is returned.
func (f *Fetcher) summarize(ctx context.Context, issue *jira.Issue, names *jira.FieldIndex, res *ItemResult) error {
	for _, tf := range f.notes {
		id := NormalizeFieldID(tf.ID)
		text, ok := issue.FieldText(string(id))
		if !ok || strings.TrimSpace(text) == "" {
			continue
		}
		s, err := f.summarizer.Summarize(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			zap.L().Warn("history: summarize note failed",
				zap.String("issue", issue.Key),
				zap.String("field", string(id)),
				zap.Error(err),
			)
			continue
		}
		res.Notes = append(res.Notes, Note{
			FieldID: id,
			Name:    fieldName(tf, id, names),
			Text:    text,
			Summary: s.Text,
			Source:  s.Source,
		})
	}
	return nil
}

// fieldIndex loads field metadata for name resolution. Metadata is optional:
// without it only id references match.
func (f *Fetcher) fieldIndex(ctx context.Context) *jira.FieldIndex {
	idx, err := f.client.FieldIndex(ctx)
	if err != nil {
		zap.L().Warn("history: field metadata unavailable, resolving by id only", zap.Error(err))
		return nil
	}
	return idx
}

// needsFieldIndex reports whether reconciling issue depends on field
// metadata: a date field has no configured display name, or a changelog item
// names its field without an id.
func (f *Fetcher) needsFieldIndex(issue *jira.Issue) bool {
	tracked := false
	for _, tf := range f.fields {
		if tf.Name == "" {
			return true
		}
		tracked = tracked || tf.TrackHistory
	}
	for _, tf := range f.notes {
		if tf.Name == "" {
			return true
		}
	}
	if !tracked {
		return false
	}
	for _, h := range issue.Histories() {
		for _, item := range h.Items {
			if item.FieldID == "" && item.Field != "" && !isIDForm(string(NormalizeFieldID(item.Field))) {
				return true
			}
		}
	}
	return false
}

func fieldName(tf config.TrackedField, id FieldID, names *jira.FieldIndex) string {
	if tf.Name != "" {
		return tf.Name
	}
	return names.DisplayName(string(id))
}

func itemFailure(err error) *Failure {
	kind := resilience.Classify(err)
	msg := err.Error()
	if kind == resilience.KindNotFound {
		msg = notFoundMessage
	}
	return &Failure{
		Kind:    string(kind),
		Message: msg,
		Preview: resilience.PreviewOf(err),
	}
}

func uniqueKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
