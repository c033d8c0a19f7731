package history

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/datemover/internal/config"
	"github.com/sells-group/datemover/internal/resilience"
	"github.com/sells-group/datemover/internal/summary"
	"github.com/sells-group/datemover/pkg/jira"
	"github.com/sells-group/datemover/pkg/jira/mocks"
)

func testFieldSet() *config.FieldSet {
	return &config.FieldSet{
		CustomFields: []config.TrackedField{
			{ID: "11067", Type: config.FieldTypeDate, TrackHistory: true},
			{ID: "customfield_11068", Name: "Target start", Type: config.FieldTypeDate},
			{ID: "customfield_23073", Name: "Status update", Type: config.FieldTypeString},
		},
		DisplayColumns: []string{"key", "customfield_11067"},
	}
}

func testIssue(key string, fields map[string]any, histories ...jira.History) *jira.Issue {
	raw := make(map[string]json.RawMessage, len(fields))
	for k, v := range fields {
		b, _ := json.Marshal(v)
		raw[k] = b
	}
	return &jira.Issue{
		Key:       key,
		Fields:    raw,
		Changelog: &jira.Changelog{Total: len(histories), Histories: histories},
	}
}

func testIndex() *jira.FieldIndex {
	return jira.NewFieldIndex([]jira.Field{
		{ID: "customfield_11067", Name: "Target end", Custom: true},
		{ID: "customfield_11068", Name: "Target start", Custom: true},
	})
}

type countingRecorder struct {
	mu       sync.Mutex
	outcomes map[string]int
	changes  int
}

func (r *countingRecorder) ObserveItem(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.outcomes == nil {
		r.outcomes = map[string]int{}
	}
	r.outcomes[outcome]++
}

func (r *countingRecorder) ObserveField(changes, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes += changes
}

func TestFetchIssue_ReconcilesTrackedField(t *testing.T) {
	client := mocks.NewMockClient(t)
	issue := testIssue("PROJ-1",
		map[string]any{
			"summary":           "Ship it",
			"customfield_11067": "2026-01-15",
			"customfield_11068": "2025-12-01",
		},
		change("2026-01-10T10:00:00.000+0000", dateItemNumeric(11067, "2026-01-10")),
		change("2026-01-05T10:00:00.000+0000", dateItem("customfield_11067", "2026-01-05")),
		change("2026-01-15T10:00:00.000+0000", jira.ChangeItem{Field: "Target end", To: "2026-01-15"}),
	)
	client.On("Issue", mock.Anything, "PROJ-1",
		[]string{"summary", "customfield_11067", "customfield_11068"}).Return(issue, nil)
	client.On("FieldIndex", mock.Anything).Return(testIndex(), nil)

	rec := &countingRecorder{}
	f := NewFetcher(client, testFieldSet(), WithRecorder(rec))
	res := f.FetchIssue(context.Background(), "PROJ-1")

	require.Nil(t, res.Error)
	assert.Equal(t, "Ship it", res.Summary)
	require.Len(t, res.Fields, 2, "string fields are not date fields")

	end := res.Fields[0]
	assert.Equal(t, FieldID("customfield_11067"), end.FieldID)
	assert.Equal(t, "Target end", end.Name, "name from tracker metadata")
	assert.Equal(t, "15/Jan/2026", end.Current)
	assert.Equal(t, "2026-01-15", end.CurrentRaw)
	assert.Equal(t, []string{"10/Jan/2026", "05/Jan/2026"}, end.History)
	assert.Equal(t, 3, end.ChangeCount)
	require.NotNil(t, end.Slip)
	assert.Equal(t, "1.4 weeks", end.Slip.Display)
	assert.Equal(t, "red", end.Slip.Color)

	start := res.Fields[1]
	assert.Equal(t, "Target start", start.Name)
	assert.Equal(t, "01/Dec/2025", start.Current)
	assert.Empty(t, start.History)
	assert.Nil(t, start.Slip, "untracked fields have no slip")

	assert.Equal(t, map[string]int{OutcomeOK: 1}, rec.outcomes)
	assert.Equal(t, 3, rec.changes)
}

// dateItemNumeric builds an item whose fieldId arrived as a bare number.
func dateItemNumeric(n int, to string) jira.ChangeItem {
	return jira.ChangeItem{Field: "Target end", FieldID: jira.FieldRef(strconv.Itoa(n)), To: to}
}

func TestFetchIssue_MissingAndUnparseableCurrent(t *testing.T) {
	client := mocks.NewMockClient(t)
	issue := testIssue("PROJ-2", map[string]any{
		"customfield_11067": "sometime in Q3",
		"customfield_11068": nil,
	})
	client.On("Issue", mock.Anything, "PROJ-2", mock.Anything).Return(issue, nil)
	client.On("FieldIndex", mock.Anything).Return(nil, errors.New("metadata down"))

	res := NewFetcher(client, testFieldSet()).FetchIssue(context.Background(), "PROJ-2")

	require.Nil(t, res.Error)
	require.Len(t, res.Fields, 1, "fields without a value are omitted")
	fr := res.Fields[0]
	assert.Equal(t, "customfield_11067", fr.Name, "falls back to the id without metadata")
	assert.Equal(t, "sometime in Q3", fr.Current, "unparseable values are surfaced unmodified")
	require.NotNil(t, fr.Error)
	assert.Equal(t, KindParse, fr.Error.Kind)
	assert.Nil(t, fr.Slip)
}

func TestFetchIssue_NotFound(t *testing.T) {
	client := mocks.NewMockClient(t)
	notFound := resilience.NewPermanentError(eris.New("jira: get_issue: HTTP 404"), 404, []byte(`{"errorMessages":["Issue Does Not Exist"]}`))
	client.On("Issue", mock.Anything, "PROJ-404", mock.Anything).Return(nil, notFound)

	rec := &countingRecorder{}
	res := NewFetcher(client, testFieldSet(), WithRecorder(rec)).FetchIssue(context.Background(), "PROJ-404")

	require.NotNil(t, res.Error)
	assert.Equal(t, string(resilience.KindNotFound), res.Error.Kind)
	assert.Equal(t, "issue not found or not accessible", res.Error.Message)
	assert.Contains(t, res.Error.Preview, "Issue Does Not Exist")
	assert.Empty(t, res.Fields)
	assert.Equal(t, map[string]int{OutcomeNotFound: 1}, rec.outcomes)
}

func TestFetchIssue_NonStructuredCarriesPreview(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Issue", mock.Anything, "PROJ-3", mock.Anything).Return(nil, &resilience.NonStructuredResponseError{
		StatusCode:  200,
		ContentType: "text/html",
		Preview:     "<html>Log in</html>",
	})

	res := NewFetcher(client, testFieldSet()).FetchIssue(context.Background(), "PROJ-3")

	require.NotNil(t, res.Error)
	assert.Equal(t, string(resilience.KindNonStructured), res.Error.Kind)
	assert.Equal(t, "<html>Log in</html>", res.Error.Preview)
	assert.Contains(t, res.Error.Message, "access token")
}

func TestFetchIssue_NoDateFields(t *testing.T) {
	client := mocks.NewMockClient(t)
	fs := &config.FieldSet{CustomFields: []config.TrackedField{{ID: "customfield_1", Type: config.FieldTypeString}}}

	res := NewFetcher(client, fs).FetchIssue(context.Background(), "PROJ-1")

	assert.Nil(t, res.Error)
	assert.Empty(t, res.Fields)
	client.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchIssues_KeepsOrderAndIsolatesFailures(t *testing.T) {
	client := mocks.NewMockClient(t)
	for _, key := range []string{"PROJ-1", "PROJ-3"} {
		client.On("Issue", mock.Anything, key, mock.Anything).
			Return(testIssue(key, map[string]any{"customfield_11067": "2026-01-15"}), nil)
	}
	client.On("Issue", mock.Anything, "PROJ-2", mock.Anything).
		Return(nil, &resilience.TransientError{Err: eris.New("jira: get_issue: HTTP 503"), StatusCode: 503, Attempts: 4})
	client.On("FieldIndex", mock.Anything).Return(testIndex(), nil)

	f := NewFetcher(client, testFieldSet(), WithConcurrency(2))
	results, err := f.FetchIssues(context.Background(), []string{"PROJ-1", " PROJ-2", "PROJ-3", "PROJ-1", ""})

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "PROJ-1", results[0].IssueKey)
	assert.Equal(t, "PROJ-2", results[1].IssueKey)
	assert.Equal(t, "PROJ-3", results[2].IssueKey)

	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, string(resilience.KindTransient), results[1].Error.Kind)
	assert.Contains(t, results[1].Error.Message, "after 4 attempts")
	assert.Nil(t, results[2].Error)
	assert.Len(t, results[2].Fields, 1)
}

func TestFetchIssues_CanceledContext(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Issue", mock.Anything, mock.Anything, mock.Anything).
		Return(func(ctx context.Context, key string, fields []string) (*jira.Issue, error) {
			return nil, ctx.Err()
		}).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := NewFetcher(client, testFieldSet()).FetchIssues(ctx, []string{"PROJ-1"})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 1)
}

func TestFetchJQL(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Search", mock.Anything, "project = PROJ", []string{"key"}, 0, 0).
		Return(&jira.SearchResult{Total: 1, Issues: []jira.Issue{{Key: "PROJ-7"}}}, nil)
	client.On("Issue", mock.Anything, "PROJ-7", mock.Anything).
		Return(testIssue("PROJ-7", map[string]any{"customfield_11067": "2026-01-15"}), nil)
	client.On("FieldIndex", mock.Anything).Return(testIndex(), nil)

	results, err := NewFetcher(client, testFieldSet()).FetchJQL(context.Background(), "project = PROJ", 10)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "PROJ-7", results[0].IssueKey)
	assert.Nil(t, results[0].Fields[0].Slip, "no changelog means no slip")
	client.AssertNotCalled(t, "SearchAll", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchJQL_PaginatesBeyondFirstPage(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Search", mock.Anything, "project = PROJ", []string{"key"}, 0, 0).
		Return(&jira.SearchResult{Total: 2, Issues: []jira.Issue{{Key: "PROJ-1"}}}, nil)
	client.On("SearchAll", mock.Anything, "project = PROJ", []string{"key"}).
		Return([]jira.Issue{{Key: "PROJ-1"}, {Key: "PROJ-2"}}, nil)
	client.On("Issue", mock.Anything, mock.Anything, mock.Anything).
		Return(func(_ context.Context, key string, _ []string) (*jira.Issue, error) {
			return testIssue(key, map[string]any{"customfield_11067": "2026-01-15"}), nil
		})
	client.On("FieldIndex", mock.Anything).Return(testIndex(), nil)

	results, err := NewFetcher(client, testFieldSet()).FetchJQL(context.Background(), "project = PROJ", 0)

	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "PROJ-2", results[1].IssueKey)
}

func TestFetchJQL_TooManyIssues(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Search", mock.Anything, "project = BIG", []string{"key"}, 0, 0).
		Return(&jira.SearchResult{Total: 5000, Issues: []jira.Issue{{Key: "BIG-1"}}}, nil)

	_, err := NewFetcher(client, testFieldSet()).FetchJQL(context.Background(), "project = BIG", 200)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTooManyIssues)
	assert.Contains(t, err.Error(), "5000 issues (max 200)")
	client.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything)
}

func TestFetchJQL_SearchError(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Search", mock.Anything, "bad jql", mock.Anything, 0, 0).
		Return(nil, resilience.NewPermanentError(eris.New("HTTP 400"), 400, nil))

	_, err := NewFetcher(client, testFieldSet()).FetchJQL(context.Background(), "bad jql", 0)
	require.Error(t, err)
	assert.Equal(t, resilience.KindPermanent, resilience.Classify(err))
}

func TestFetchIssues_SkipsFieldMetadataWhenIDsSuffice(t *testing.T) {
	client := mocks.NewMockClient(t)
	fs := &config.FieldSet{CustomFields: []config.TrackedField{
		{ID: "customfield_11067", Name: "Target end", Type: config.FieldTypeDate, TrackHistory: true},
	}}
	for _, key := range []string{"PROJ-1", "PROJ-2", "PROJ-3"} {
		client.On("Issue", mock.Anything, key, mock.Anything).Return(testIssue(key,
			map[string]any{"customfield_11067": "2026-01-15"},
			change("2026-01-05T10:00:00.000+0000", dateItem("customfield_11067", "2026-01-05")),
		), nil)
	}

	results, err := NewFetcher(client, fs).FetchIssues(context.Background(), []string{"PROJ-1", "PROJ-2", "PROJ-3"})

	require.NoError(t, err)
	require.Len(t, results, 3)
	for _, res := range results {
		require.Len(t, res.Fields, 1)
		assert.Equal(t, "Target end", res.Fields[0].Name)
		assert.Equal(t, []string{"05/Jan/2026"}, res.Fields[0].History)
	}
	client.AssertNotCalled(t, "FieldIndex", mock.Anything)
}

func TestFetchIssue_LoadsFieldMetadataForNamedChangelogItems(t *testing.T) {
	client := mocks.NewMockClient(t)
	fs := &config.FieldSet{CustomFields: []config.TrackedField{
		{ID: "customfield_11067", Name: "Target end", Type: config.FieldTypeDate, TrackHistory: true},
	}}
	client.On("Issue", mock.Anything, "PROJ-1", mock.Anything).Return(testIssue("PROJ-1",
		map[string]any{"customfield_11067": "2026-01-15"},
		change("2026-01-05T10:00:00.000+0000", jira.ChangeItem{Field: "Target end", To: "2026-01-05"}),
	), nil)
	client.On("FieldIndex", mock.Anything).Return(testIndex(), nil).Once()

	res := NewFetcher(client, fs).FetchIssue(context.Background(), "PROJ-1")

	require.Len(t, res.Fields, 1)
	assert.Equal(t, []string{"05/Jan/2026"}, res.Fields[0].History)
}

type failingSummarizer struct{ err error }

func (s failingSummarizer) Summarize(context.Context, string) (summary.Summary, error) {
	return summary.Summary{}, s.err
}

func noteFieldSet() *config.FieldSet {
	return &config.FieldSet{CustomFields: []config.TrackedField{
		{ID: "customfield_11067", Name: "Target end", Type: config.FieldTypeDate},
		{ID: "customfield_23073", Name: "Status update", Type: config.FieldTypeString, Summarize: true},
	}}
}

func TestFetchIssue_SummarizesNoteFields(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Issue", mock.Anything, "PROJ-1",
		[]string{"summary", "customfield_11067", "customfield_23073"}).
		Return(testIssue("PROJ-1", map[string]any{
			"customfield_11067": "2026-01-15",
			"customfield_23073": "Status: Blocked on vendor. Patch expected next week and retest after",
		}), nil)

	f := NewFetcher(client, noteFieldSet(), WithSummarizer(summary.Rules{MaxLength: 40}))
	res := f.FetchIssue(context.Background(), "PROJ-1")

	require.Nil(t, res.Error)
	require.Len(t, res.Notes, 1)
	assert.Equal(t, FieldID("customfield_23073"), res.Notes[0].FieldID)
	assert.Equal(t, "Status update", res.Notes[0].Name)
	assert.Equal(t, "Blocked on vendor.", res.Notes[0].Summary)
	assert.Equal(t, summary.SourceRules, res.Notes[0].Source)
	client.AssertNotCalled(t, "FieldIndex", mock.Anything)
}

func TestFetchIssue_NoteFieldsIgnoredWithoutSummarizer(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Issue", mock.Anything, "PROJ-1", []string{"summary", "customfield_11067"}).
		Return(testIssue("PROJ-1", map[string]any{"customfield_11067": "2026-01-15"}), nil)

	res := NewFetcher(client, noteFieldSet()).FetchIssue(context.Background(), "PROJ-1")

	require.Nil(t, res.Error)
	assert.Empty(t, res.Notes)
}

func TestFetchIssue_SummarizerFailureDropsNote(t *testing.T) {
	client := mocks.NewMockClient(t)
	client.On("Issue", mock.Anything, "PROJ-1", mock.Anything).
		Return(testIssue("PROJ-1", map[string]any{
			"customfield_11067": "2026-01-15",
			"customfield_23073": "On track",
		}), nil)

	f := NewFetcher(client, noteFieldSet(), WithSummarizer(failingSummarizer{err: errors.New("overloaded")}))
	res := f.FetchIssue(context.Background(), "PROJ-1")

	require.Nil(t, res.Error)
	assert.Empty(t, res.Notes)
	require.Len(t, res.Fields, 1)
}

func TestFetchIssue_SummarizerCanceled(t *testing.T) {
	client := mocks.NewMockClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	client.On("Issue", mock.Anything, "PROJ-1", mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(testIssue("PROJ-1", map[string]any{"customfield_23073": "On track"}), nil)

	f := NewFetcher(client, noteFieldSet(), WithSummarizer(failingSummarizer{err: context.Canceled}))
	res := f.FetchIssue(ctx, "PROJ-1")

	require.NotNil(t, res.Error)
	assert.Equal(t, string(resilience.KindCanceled), res.Error.Kind)
}
