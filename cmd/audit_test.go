package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/tala/config"
	talaerrors "github.com/otherjamesbrown/tala/pkg/errors"
)

const csvHeader = "CreationDate,UserIds,Operations,AuditData\n"

func auditData(meeting, key, join, leave, device string) string {
	return fmt.Sprintf(`{"Id":"id-%[1]s","Operation":"MeetingParticipantDetail","OrganizationId":"org-1",`+
		`"RecordType":25,"UserKey":"uk-1","UserType":0,"Version":1,"Workload":"MicrosoftTeams","ClientIP":"10.0.0.1",`+
		`"UserId":"org@x.com","Attendees":[{"OrganizationId":"org-2","RecipientType":"User","UserObjectId":"%[2]s"}],`+
		`"DeviceInformation":"%[5]s","ExtraProperties":[{"Key":"UserAgent","Value":"Teams (1.0)"}],`+
		`"ItemName":"ScheduledMeeting","JoinTime":"%[3]s","LeaveTime":"%[4]s","MeetingDetailId":"%[1]s"}`,
		meeting, key, join, leave, device)
}

func csvRow(payload string) string {
	return "2024-01-01T10:00:00,org@x.com,MeetingParticipantDetail,\"" + strings.ReplaceAll(payload, `"`, `""`) + "\"\n"
}

// writeAudit writes a log where U1 reconnects from the same device in M1.
func writeAudit(t *testing.T, dir string, extra ...string) string {
	t.Helper()
	content := csvHeader +
		csvRow(auditData("M1", "U1", "2024-01-01T10:00:00", "2024-01-01T10:10:00", "Win")) +
		csvRow(auditData("M1", "U1", "2024-01-01T10:12:00", "2024-01-01T10:40:00", "Win")) +
		csvRow(auditData("M1", "U2", "2024-01-01T09:58:00", "2024-01-01T10:45:00", "Mac"))
	for _, e := range extra {
		content += e
	}
	path := filepath.Join(dir, "audit.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testDeps(cfg *config.Config) *AuditCommandDeps {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &AuditCommandDeps{
		Config: cfg,
		LoadConfig: func() (*config.Config, error) {
			return cfg, nil
		},
	}
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestNewAuditCommands(t *testing.T) {
	tests := []struct {
		cmd  *cobra.Command
		use  string
		flag string
	}{
		{NewOrganizersCommand(nil), "organizers", "output"},
		{NewAttendeesCommand(nil), "attendees", "output"},
		{NewDisconnectsCommand(nil), "disconnects", "ip"},
		{NewShowCommand(nil), "show", ""},
	}

	for _, tt := range tests {
		t.Run(tt.use, func(t *testing.T) {
			require.NotNil(t, tt.cmd)
			assert.True(t, strings.HasPrefix(tt.cmd.Use, tt.use+" "))
			if tt.flag != "" {
				assert.NotNil(t, tt.cmd.Flags().Lookup(tt.flag))
			}
		})
	}
}

func TestOrganizersCommand(t *testing.T) {
	path := writeAudit(t, t.TempDir())

	out, err := execute(t, NewOrganizersCommand(testDeps(nil)), path)
	require.NoError(t, err)

	want := "#meeting_id,organizer_email,organizer_id,organizer_organization,meeting_type,first_join,last_leave,number_attendees\n" +
		"M1,org@x.com,uk-1,org-1,ScheduledMeeting,2024-01-01T09:58:00,2024-01-01T10:45:00,2\n"
	assert.Equal(t, want, out)
}

func TestOrganizersCommand_JSON(t *testing.T) {
	path := writeAudit(t, t.TempDir())

	out, err := execute(t, NewOrganizersCommand(testDeps(nil)), "--output", "json", path)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "M1", got[0]["meeting_id"])
}

func TestOrganizersCommand_InvalidOutput(t *testing.T) {
	path := writeAudit(t, t.TempDir())

	_, err := execute(t, NewOrganizersCommand(testDeps(nil)), "--output", "xml", path)
	require.Error(t, err)
	assert.True(t, talaerrors.IsInvalidConfig(err))
}

func TestAttendeesCommand_WithUsersFile(t *testing.T) {
	dir := t.TempDir()
	path := writeAudit(t, dir)
	users := filepath.Join(dir, "users.csv")
	require.NoError(t, os.WriteFile(users, []byte("U1,u1@x.com\n"), 0644))

	cfg := config.DefaultConfig()
	cfg.UsersFile = users

	out, err := execute(t, NewAttendeesCommand(testDeps(cfg)), path)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "#meeting_id,attendee_key,attendee_email,key_type,attendee_organization,join_time,leave_time,client_ip,device,property", lines[0])
	assert.Equal(t, "M1,U1,u1@x.com,User,org-2,2024-01-01T10:00:00,2024-01-01T10:10:00,10.0.0.1,Win,Teams", lines[1])
	assert.Equal(t, "M1,U2,,User,org-2,2024-01-01T09:58:00,2024-01-01T10:45:00,10.0.0.1,Mac,Teams", lines[3])

	// The organizer was learned and the table saved in insertion order.
	data, err := os.ReadFile(users)
	require.NoError(t, err)
	assert.Equal(t, "U1,u1@x.com\nuk-1,org@x.com\n", string(data))
}

func TestAttendeesCommand_WithoutUsersFile(t *testing.T) {
	path := writeAudit(t, t.TempDir())

	out, err := execute(t, NewAttendeesCommand(testDeps(nil)), path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "#meeting_id,attendee_key,key_type,"))
}

func TestDisconnectsCommand(t *testing.T) {
	path := writeAudit(t, t.TempDir())

	t.Run("same device", func(t *testing.T) {
		out, err := execute(t, NewDisconnectsCommand(testDeps(nil)), path)
		require.NoError(t, err)
		assert.Contains(t, out, "Meeting ID: M1 / Type: ScheduledMeeting / Date: 2024-01-01 / Time: 09:58:00 - 10:45:00 / #Attendees: 2\n")
		assert.Contains(t, out, "  Attendee: U1 / Key type: User / Organization ID: org-2\n")
		assert.NotContains(t, out, "Attendee: U2")
		assert.True(t, strings.HasSuffix(out, "=====\n1 meetings affected out of 1 (100.0%)\n1 attendees affected out of 2 (50.0%)\n"))
	})

	t.Run("ip filter excludes everything", func(t *testing.T) {
		out, err := execute(t, NewDisconnectsCommand(testDeps(nil)), "--ip", `^192\.`, path)
		require.NoError(t, err)
		assert.Equal(t, "=====\n0 meetings affected out of 1 (0.0%)\n0 attendees affected out of 2 (0.0%)\n", out)
	})

	t.Run("policy flag is case insensitive", func(t *testing.T) {
		out, err := execute(t, NewDisconnectsCommand(testDeps(nil)), "--policy", " Any ", path)
		require.NoError(t, err)
		assert.Contains(t, out, "  Attendee: U1 / Key type: User / Organization ID: org-2\n")
	})

	t.Run("invalid policy", func(t *testing.T) {
		_, err := execute(t, NewDisconnectsCommand(testDeps(nil)), "--policy", "sometimes", path)
		require.Error(t, err)
		assert.True(t, talaerrors.IsInvalidConfig(err))
	})

	t.Run("invalid ip filter", func(t *testing.T) {
		_, err := execute(t, NewDisconnectsCommand(testDeps(nil)), "-i", "(", path)
		require.Error(t, err)
		assert.True(t, talaerrors.IsInvalidConfig(err))
	})

	t.Run("configuration is not modified by flags", func(t *testing.T) {
		cfg := config.DefaultConfig()
		_, err := execute(t, NewDisconnectsCommand(testDeps(cfg)), "--policy", "any", "--ip", "10", path)
		require.NoError(t, err)
		assert.Equal(t, config.DefaultPolicy, cfg.Policy)
		assert.Empty(t, cfg.IPFilter)
	})
}

func TestShowCommand(t *testing.T) {
	path := writeAudit(t, t.TempDir())

	out, err := execute(t, NewShowCommand(testDeps(nil)), path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "Line #2\nCreationDate=2024-01-01T10:00:00\nUserId=org@x.com\nOperation=MeetingParticipantDetail\nAuditData:\n  Id=id-M1\n"))
	assert.Contains(t, out, "  Attendees:\n    OrganizationId=org-2\n")
	assert.Contains(t, out, "Line #4\n")
}

func TestRunSources_ExitError(t *testing.T) {
	dir := t.TempDir()
	path := writeAudit(t, dir, csvRow(`{"Id":"x","RecordType":2a}`))

	out, err := execute(t, NewOrganizersCommand(testDeps(nil)), path, filepath.Join(dir, "missing.csv"))
	require.Error(t, err)

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.Failures)
	assert.Equal(t, 2, exitErr.Code())

	// The readable file was still listed.
	assert.Contains(t, out, "M1,org@x.com,uk-1")
}

func TestExitError_Code(t *testing.T) {
	tests := []struct {
		failures int
		want     int
	}{
		{1, 1},
		{125, 125},
		{300, MaxExitCode},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.failures), func(t *testing.T) {
			assert.Equal(t, tt.want, (&ExitError{Failures: tt.failures}).Code())
		})
	}
}

func TestRunSources_MetricsFile(t *testing.T) {
	dir := t.TempDir()
	path := writeAudit(t, dir)

	cfg := config.DefaultConfig()
	cfg.MetricsFile = filepath.Join(dir, "tala.prom")

	_, err := execute(t, NewOrganizersCommand(testDeps(cfg)), path)
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.MetricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `tala_rows_total{status="accepted"} 3`)
	assert.Contains(t, string(data), `tala_sources_total{status="processed"} 1`)
}

func TestAuditDeps_LoadConfigError(t *testing.T) {
	deps := &AuditCommandDeps{
		LoadConfig: func() (*config.Config, error) {
			return nil, talaerrors.ErrInvalidConfig
		},
	}

	_, err := execute(t, NewOrganizersCommand(deps), "x.csv")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading configuration")
}
