package admin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/clock"
	"github.com/dmitrijs2005/counselkeeper/internal/logging"
	"github.com/dmitrijs2005/counselkeeper/internal/server/audit"
	"github.com/dmitrijs2005/counselkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeIdentity struct {
	registered []string
	err        error
}

func (f *fakeIdentity) RegisterUser(_ context.Context, name, role string) (*models.User, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.registered = append(f.registered, name+"/"+role)
	return &models.User{ID: "u-1", UserName: name, Role: role, Active: true}, nil
}

func (f *fakeIdentity) IssueToken(_ context.Context, name string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "token-for-" + name, nil
}

type assignCall struct {
	counselor, subject string
	from               time.Time
	until              *time.Time
}

type fakeRoster struct{ calls []assignCall }

func (f *fakeRoster) Assign(_ context.Context, c, s string, from time.Time, until *time.Time) error {
	f.calls = append(f.calls, assignCall{c, s, from, until})
	return nil
}

var today = time.Date(2024, 11, 5, 12, 0, 0, 0, time.UTC)

func newTool(out *bytes.Buffer) (*Tool, *fakeIdentity, *fakeRoster) {
	id, ro := &fakeIdentity{}, &fakeRoster{}
	return &Tool{Identity: id, Roster: ro, Out: out, Now: func() time.Time { return today }}, id, ro
}

func TestKeygen_PrintsUsableKey(t *testing.T) {
	var out bytes.Buffer
	tool, _, _ := newTool(&out)

	require.NoError(t, tool.Run(context.Background(), []string{"keygen"}))
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, key, 32)

	out.Reset()
	require.NoError(t, tool.Run(context.Background(), []string{"keygen", "-secret"}))
	secret, err := hex.DecodeString(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Len(t, secret, 32)

	assert.False(t, NeedsBackend("keygen"))
	assert.True(t, NeedsBackend("adduser"))
}

func TestAddUser(t *testing.T) {
	var out bytes.Buffer
	tool, id, _ := newTool(&out)

	require.NoError(t, tool.Run(context.Background(), []string{"adduser", "-name", "alice", "-role", "counselor"}))
	assert.Equal(t, []string{"alice/counselor"}, id.registered)
	assert.Contains(t, out.String(), "u-1\talice\tcounselor")

	err := tool.Run(context.Background(), []string{"adduser"})
	assert.ErrorIs(t, err, ErrUsage)

	id.err = errors.New("duplicate")
	assert.ErrorContains(t, tool.Run(context.Background(), []string{"adduser", "-name", "alice"}), "duplicate")
}

func TestAssign(t *testing.T) {
	var out bytes.Buffer
	tool, _, ro := newTool(&out)

	require.NoError(t, tool.Run(context.Background(), []string{"assign", "-counselor", "c1", "-subject", "s1"}))
	require.NoError(t, tool.Run(context.Background(), []string{"assign", "-counselor", "c1", "-subject", "s2", "-from", "2024-09-01", "-until", "2025-06-30"}))

	require.Len(t, ro.calls, 2)
	assert.Equal(t, today, ro.calls[0].from)
	assert.Nil(t, ro.calls[0].until)
	assert.Equal(t, time.Date(2024, 9, 1, 0, 0, 0, 0, time.UTC), ro.calls[1].from)
	require.NotNil(t, ro.calls[1].until)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), *ro.calls[1].until)

	assert.ErrorIs(t, tool.Run(context.Background(), []string{"assign", "-counselor", "c1"}), ErrUsage)
	assert.ErrorIs(t, tool.Run(context.Background(), []string{"assign", "-counselor", "c1", "-subject", "s1", "-from", "1/9/2024"}), ErrUsage)
}

func TestToken(t *testing.T) {
	var out bytes.Buffer
	tool, _, _ := newTool(&out)

	require.NoError(t, tool.Run(context.Background(), []string{"token", "-name", "alice"}))
	assert.Equal(t, "token-for-alice\n", out.String())
}

func TestVerify(t *testing.T) {
	chain := audit.NewChain([]byte("k"))
	trail := audit.NewInMemoryStore(chain)
	c := clock.NewFixed(today.AddDate(0, 0, -1))
	l := audit.NewLogger(trail, logging.Nop{}, audit.WithClock(c))
	for i := 0; i < 4; i++ {
		l.Record(context.Background(), audit.Event{ActorID: "c1", Action: audit.ActionRead, EntityType: audit.EntityConfidentialRecord, EntityID: "r1"})
		c.Advance(12 * time.Hour)
	}

	var out bytes.Buffer
	tool := &Tool{Trail: trail, Chain: chain, Out: &out, Now: func() time.Time { return today }}

	require.NoError(t, tool.Run(context.Background(), []string{"verify", "-day", "2024-11-05"}))
	assert.Contains(t, out.String(), "2024-11-05: 2 entries, chain intact")

	out.Reset()
	require.NoError(t, tool.Run(context.Background(), []string{"verify", "-day", "2024-01-01"}))
	assert.Contains(t, out.String(), "no entries")

	wrong := &Tool{Trail: trail, Chain: audit.NewChain([]byte("other")), Out: &out, Now: tool.Now}
	assert.ErrorIs(t, wrong.Run(context.Background(), []string{"verify"}), audit.ErrChainBroken)
}

func TestRun_UnknownCommand(t *testing.T) {
	var out bytes.Buffer
	tool, _, _ := newTool(&out)

	assert.ErrorIs(t, tool.Run(context.Background(), nil), ErrUsage)
	assert.ErrorIs(t, tool.Run(context.Background(), []string{"frobnicate"}), ErrUsage)
	assert.Contains(t, out.String(), "usage: counselctl")
}

// trimmedTrail hides entries of the listed day, as if rows had been deleted.
type trimmedTrail struct {
	*audit.InMemoryStore
	trim func([]*models.AuditEntry) []*models.AuditEntry
}

func (t trimmedTrail) ListByDay(ctx context.Context, day time.Time) ([]*models.AuditEntry, error) {
	entries, err := t.InMemoryStore.ListByDay(ctx, day)
	if err != nil {
		return nil, err
	}
	return t.trim(entries), nil
}

func TestVerify_DetectsRemovedEdgeEntries(t *testing.T) {
	chain := audit.NewChain([]byte("k"))
	store := audit.NewInMemoryStore(chain)
	c := clock.NewFixed(today.AddDate(0, 0, -1))
	l := audit.NewLogger(store, logging.Nop{}, audit.WithClock(c))
	for i := 0; i < 9; i++ {
		l.Record(context.Background(), audit.Event{ActorID: "c1", Action: audit.ActionRead, EntityType: audit.EntityConfidentialRecord, EntityID: "r1"})
		c.Advance(8 * time.Hour)
	}

	tests := []struct {
		name string
		trim func([]*models.AuditEntry) []*models.AuditEntry
	}{
		{"first of day", func(es []*models.AuditEntry) []*models.AuditEntry { return es[1:] }},
		{"last of day", func(es []*models.AuditEntry) []*models.AuditEntry { return es[:len(es)-1] }},
		{"whole day", func([]*models.AuditEntry) []*models.AuditEntry { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			tool := &Tool{Trail: trimmedTrail{store, tt.trim}, Chain: chain, Out: &out, Now: func() time.Time { return today }}
			assert.ErrorIs(t, tool.Run(context.Background(), []string{"verify", "-day", today.Format(time.DateOnly)}), audit.ErrChainBroken)
		})
	}

	var out bytes.Buffer
	intact := &Tool{Trail: store, Chain: chain, Out: &out, Now: func() time.Time { return today }}
	require.NoError(t, intact.Run(context.Background(), []string{"verify", "-day", today.Format(time.DateOnly)}))
	assert.Contains(t, out.String(), "3 entries, chain intact")
}
