package ingest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/unicode"

	"github.com/otherjamesbrown/tala/pkg/audit"
	"github.com/otherjamesbrown/tala/pkg/audit/payload"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
	"github.com/otherjamesbrown/tala/pkg/logging"
	"github.com/otherjamesbrown/tala/pkg/observability"
)

const header = "CreationDate,UserIds,Operations,AuditData\n"

// auditData returns a well-formed payload for one participation.
func auditData(meeting, key, join, leave, ip string) string {
	return fmt.Sprintf(`{"CreationTime":"%[3]s","Id":"id-%[1]s-%[2]s","Operation":"MeetingParticipantDetail",`+
		`"OrganizationId":"org-1","RecordType":25,"UserKey":"uk-1","UserType":0,"Version":1,"Workload":"MicrosoftTeams",`+
		`"ClientIP":"%[5]s","UserId":"org@x.com","Attendees":[{"OrganizationId":"org-2","RecipientType":"User","UserObjectId":"%[2]s"}],`+
		`"DeviceInformation":"Win/Chrome","ExtraProperties":[{"Key":"UserAgent","Value":"Teams (1.0)"}],`+
		`"ItemName":"ScheduledMeeting","JoinTime":"%[3]s","LeaveTime":"%[4]s","MeetingDetailId":"%[1]s"}`,
		meeting, key, join, leave, ip)
}

// csvLine returns a positional CSV row.
func csvLine(date, payload string) string {
	return date + ",org@x.com,MeetingParticipantDetail,\"" + strings.ReplaceAll(payload, `"`, `""`) + "\"\n"
}

func readAll(t *testing.T, rr *RowReader) ([]audit.Row, []error) {
	t.Helper()
	var rows []audit.Row
	var errs []error
	for {
		row, err := rr.Next()
		if err == io.EOF {
			return rows, errs
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rows = append(rows, row)
	}
}

func TestRowReader_Positional(t *testing.T) {
	input := header +
		csvLine("2024-01-01T10:00:00.0000000Z", auditData("M1", "U1", "2024-01-01T10:00:00", "2024-01-01T10:30:00", "10.0.0.1")) +
		csvLine("2024-01-01T10:05:00.0000000Z", `{"Id":"x"}`)

	rr := NewRowReader("audit.csv", strings.NewReader(input))
	rows, errs := readAll(t, rr)

	require.Empty(t, errs)
	require.Len(t, rows, 2)
	assert.Equal(t, 1, rr.Headers())

	assert.Equal(t, "audit.csv", rows[0].Source)
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "2024-01-01T10:00:00.0000000Z", rows[0].CreationDate)
	assert.Equal(t, "org@x.com", rows[0].UserID)
	assert.Equal(t, "MeetingParticipantDetail", rows[0].Operation)
	assert.True(t, strings.HasPrefix(rows[0].AuditData, `{"CreationTime"`))

	assert.Equal(t, 3, rows[1].Line)
	assert.Equal(t, `{"Id":"x"}`, rows[1].AuditData)
}

func TestRowReader_NoHeader(t *testing.T) {
	input := csvLine("2024-01-01T10:00:00", `{"Id":"x"}`)

	rr := NewRowReader("-", strings.NewReader(input))
	rows, errs := readAll(t, rr)

	require.Empty(t, errs)
	require.Len(t, rows, 1)
	assert.Equal(t, 0, rr.Headers())
	assert.Equal(t, 1, rows[0].Line)
}

func TestRowReader_NamedColumns(t *testing.T) {
	input := "RecordId,CreationDate,RecordType,Operation,UserId,AuditData,AssociatedAdminUnits\n" +
		`9f1c,2024-01-01T10:00:00,25,MeetingParticipantDetail,org@x.com,"{""Id"":""x""}",` + "\n"

	rr := NewRowReader("purview.csv", strings.NewReader(input))
	rows, errs := readAll(t, rr)

	require.Empty(t, errs)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-01-01T10:00:00", rows[0].CreationDate)
	assert.Equal(t, "org@x.com", rows[0].UserID)
	assert.Equal(t, "MeetingParticipantDetail", rows[0].Operation)
	assert.Equal(t, `{"Id":"x"}`, rows[0].AuditData)
}

func TestRowReader_PartialHeaderKeepsPositions(t *testing.T) {
	input := "Date,Who,What,Payload\n" + csvLine("2024-01-01T10:00:00", `{"Id":"x"}`)

	rows, errs := readAll(t, NewRowReader("a.csv", strings.NewReader(input)))

	require.Empty(t, errs)
	require.Len(t, rows, 1)
	assert.Equal(t, `{"Id":"x"}`, rows[0].AuditData)
}

func TestRowReader_BadRowsAreRecoverable(t *testing.T) {
	input := header +
		"2024-01-01T10:00:00,org@x.com,MeetingParticipantDetail\n" +
		"2024-01-01T10:01:00,org@x.com,\"Meeting\"x,{}\n" +
		csvLine("2024-01-01T10:02:00", `{"Id":"x"}`)

	rr := NewRowReader("a.csv", strings.NewReader(input))

	row, err := rr.Next()
	require.Error(t, err)
	assert.True(t, talaerrors.IsShortRow(err))
	assert.Equal(t, 2, row.Line)

	row, err = rr.Next()
	require.Error(t, err)
	var pe *csv.ParseError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 3, row.Line)

	row, err = rr.Next()
	require.NoError(t, err)
	assert.Equal(t, 4, row.Line)

	_, err = rr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestRowReader_ByteOrderMarks(t *testing.T) {
	content := header + csvLine("2024-01-01T10:00:00", `{"Id":"é"}`)

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String(content)
	require.NoError(t, err)

	tests := []struct {
		name  string
		input string
	}{
		{"utf-8 without bom", content},
		{"utf-8 with bom", "\xef\xbb\xbf" + content},
		{"utf-16le with bom", utf16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := NewRowReader("a.csv", strings.NewReader(tt.input))
			rows, errs := readAll(t, rr)

			require.Empty(t, errs)
			require.Len(t, rows, 1)
			assert.Equal(t, 1, rr.Headers())
			assert.Equal(t, `{"Id":"é"}`, rows[0].AuditData)
		})
	}
}

type fakeDirectory map[string]string

func (d fakeDirectory) Learn(id, email string) bool {
	if _, ok := d[id]; ok {
		return false
	}
	d[id] = email
	return true
}

func sampleInput() string {
	return header +
		csvLine("2024-01-01T10:00:00", auditData("M1", "U1", "2024-01-01T10:00:00", "2024-01-01T10:30:00", "10.0.0.1")) +
		csvLine("2024-01-01T10:00:00", auditData("M1", "U1", "2024-01-01T10:00:00", "2024-01-01T10:30:00", "10.0.0.1")) +
		csvLine("2024-01-01T10:01:00", `{"Id":"x","RecordType":2a,"Version":1}`) +
		csvLine("2024-01-01T10:02:00", auditData("M1", "U2", "2024-01-01T09:55:00", "2024-01-01T11:00:00", "10.0.0.2")) +
		csvLine("2024-01-01T10:03:00", auditData("M2", "U1", "2024-01-01T14:00:00", "2024-01-01T15:00:00", "10.0.0.1"))
}

func TestProcessor_Process(t *testing.T) {
	metrics := observability.NewRunMetrics()
	dir := fakeDirectory{}
	p := NewProcessor(nil, WithMetrics(metrics), WithDirectory(dir))

	res, err := p.Process(context.Background(), "audit.csv", strings.NewReader(sampleInput()))
	require.NoError(t, err)

	assert.Equal(t, "audit.csv", res.Source)
	assert.Equal(t, 5, res.Rows)
	assert.Equal(t, 4, res.Accepted)
	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Headers)
	assert.Equal(t, 1, res.Duplicates)
	assert.Equal(t, 1, res.Failures())

	require.Len(t, res.Errors, 1)
	assert.Equal(t, talaerrors.CodeMalformedPayload, res.Errors[0].Code)
	assert.Equal(t, 4, res.Errors[0].Line)
	var mpe *payload.MalformedPayloadError
	require.True(t, errors.As(res.Errors[0], &mpe))
	assert.Equal(t, 'a', mpe.Char)

	require.Equal(t, 2, res.Organizers.Len())
	m1, ok := res.Organizers.Get("M1")
	require.True(t, ok)
	assert.Equal(t, "2024-01-01T09:55:00", m1.FirstJoin)
	assert.Equal(t, "2024-01-01T11:00:00", m1.LastLeave)
	assert.Equal(t, []string{"U1", "U2"}, m1.Attendees)

	assert.Equal(t, 3, res.Sessions.SessionCount())
	assert.Len(t, res.Sessions.Sessions("M1", "U1"), 1)
	assert.Equal(t, "Teams", res.Sessions.Sessions("M1", "U1")[0].Property)

	assert.Equal(t, fakeDirectory{"uk-1": "org@x.com"}, dir)

	assert.Equal(t, 4.0, testutil.ToFloat64(metrics.RowsTotal.WithLabelValues(observability.RowStatusAccepted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RowsTotal.WithLabelValues(observability.RowStatusRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RowsTotal.WithLabelValues(observability.RowStatusHeader)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RowErrorsTotal.WithLabelValues("malformed_payload")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("duplicate")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.SessionsTotal.WithLabelValues("inserted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SourcesTotal.WithLabelValues(observability.SourceStatusProcessed)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Meetings))
}

func TestProcessor_ShortRowIsCounted(t *testing.T) {
	input := header + "2024-01-01T10:00:00,org@x.com\n"

	res, err := NewProcessor(nil).Process(context.Background(), "a.csv", strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Rejected)
	assert.Equal(t, 1, res.Failures())
	assert.Equal(t, talaerrors.CodeShortRow, res.Errors[0].Code)
	assert.Equal(t, 2, res.Errors[0].Line)
}

func TestProcessor_RowHandler(t *testing.T) {
	t.Run("sees decoded rows in order", func(t *testing.T) {
		var lines []int
		p := NewProcessor(nil, WithRowHandler(func(row audit.Row, rec *payload.Record) error {
			lines = append(lines, row.Line)
			require.NotNil(t, rec)
			return nil
		}))

		_, err := p.Process(context.Background(), "a.csv", strings.NewReader(sampleInput()))
		require.NoError(t, err)
		assert.Equal(t, []int{2, 3, 5, 6}, lines)
	})

	t.Run("error stops the source", func(t *testing.T) {
		boom := errors.New("stdout closed")
		p := NewProcessor(nil, WithRowHandler(func(audit.Row, *payload.Record) error {
			return boom
		}))

		res, err := p.Process(context.Background(), "a.csv", strings.NewReader(sampleInput()))
		require.ErrorIs(t, err, boom)
		assert.Equal(t, 1, res.Rows)
		assert.Equal(t, 0, res.Accepted)
	})
}

func TestProcessor_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	metrics := observability.NewRunMetrics()
	res, err := NewProcessor(nil, WithMetrics(metrics)).Process(ctx, "a.csv", strings.NewReader(sampleInput()))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, res.Rows)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SourcesTotal.WithLabelValues(observability.SourceStatusFailed)))
}

func TestProcessor_ProcessFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.csv")
	require.NoError(t, os.WriteFile(path, []byte(sampleInput()), 0644))

	t.Run("regular file", func(t *testing.T) {
		res, err := NewProcessor(nil).ProcessFile(context.Background(), path)
		require.NoError(t, err)
		assert.Equal(t, path, res.Source)
		assert.Equal(t, 2, res.Organizers.Len())
	})

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "missing.csv")},
		{"directory", dir},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := observability.NewRunMetrics()
			res, err := NewProcessor(nil, WithMetrics(metrics)).ProcessFile(context.Background(), tt.path)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, talaerrors.IsInputPath(err))
			var re *talaerrors.RowError
			require.True(t, errors.As(err, &re))
			assert.Equal(t, talaerrors.CodeInputPath, re.Code)
			assert.True(t, talaerrors.IsCounted(re.Code))
			assert.Equal(t, 1.0, testutil.ToFloat64(metrics.RowErrorsTotal.WithLabelValues("input_path")))
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("disk gone")
}

func TestProcessor_ReadErrorEndsSource(t *testing.T) {
	res, err := NewProcessor(nil).Process(context.Background(), "a.csv", failingReader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read a.csv")
	assert.Equal(t, 0, res.Rejected)
}

// logLines decodes the JSON log lines written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	for _, l := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if l == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(l), &m))
		lines = append(lines, m)
	}
	return lines
}

func jsonLogger(buf *bytes.Buffer) logging.Logger {
	return logging.NewLogger(&logging.Config{
		Level:      logging.LevelWarn,
		JSONFormat: true,
		Output:     buf,
	})
}

func TestProcessor_LogsSuggestedAction(t *testing.T) {
	t.Run("rejected row", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := NewProcessor(jsonLogger(&buf)).Process(context.Background(), "a.csv", strings.NewReader(sampleInput()))
		require.NoError(t, err)

		var rejected []map[string]any
		for _, l := range logLines(t, &buf) {
			if l["message"] == "Row rejected" {
				rejected = append(rejected, l)
			}
		}
		require.Len(t, rejected, 1)
		assert.Equal(t, "malformed_payload", rejected[0]["code"])
		assert.Equal(t, talaerrors.GetSuggestedAction(talaerrors.CodeMalformedPayload), rejected[0]["hint"])
		assert.EqualValues(t, 4, rejected[0]["line"])
	})

	t.Run("unreadable source", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := NewProcessor(jsonLogger(&buf)).ProcessFile(context.Background(), filepath.Join(t.TempDir(), "missing.csv"))
		require.Error(t, err)

		lines := logLines(t, &buf)
		require.Len(t, lines, 1)
		assert.Equal(t, "Cannot read input", lines[0]["message"])
		assert.Equal(t, talaerrors.GetSuggestedAction(talaerrors.CodeInputPath), lines[0]["hint"])
	})
}
