package conversation

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/veyra/pkg/chaterrors"
)

func TestCreateActivatesAndLoads(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4o")
	c, err := s.NewProvisional()
	require.NoError(t, err)

	assert.True(t, c.Provisional)
	assert.True(t, IsProvisionalID(c.ID))
	assert.Equal(t, "gpt-4o", c.Model)
	assert.Equal(t, c.ID, s.ActiveID())
	assert.True(t, s.Messages().IsLoaded(c.ID))
	assert.Equal(t, DefaultTitle, c.GetTitle())
}

func TestCreateUsesMostRecentModel(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4o")
	c1, err := s.NewProvisional()
	require.NoError(t, err)
	require.NoError(t, s.SetModel(c1.ID, "claude-3-opus"))

	c2, err := s.NewProvisional()
	require.NoError(t, err)
	assert.Equal(t, "claude-3-opus", c2.Model)

	c1, err = s.Get(c1.ID)
	require.NoError(t, err)
	assert.Equal(t, "claude-3-opus", c1.Model)
}

func TestCreateDuplicate(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4")
	_, err := s.Create(&Conversation{ID: "c1"})
	require.NoError(t, err)
	_, err = s.Create(&Conversation{ID: "c1"})
	assert.True(t, errors.Is(err, chaterrors.ErrInvalidState))
}

func TestSelectAndRemove(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4")
	_, err := s.Create(&Conversation{ID: "c1"})
	require.NoError(t, err)
	_, err = s.Create(&Conversation{ID: "c2"})
	require.NoError(t, err)
	assert.Equal(t, "c2", s.ActiveID())

	_, err = s.Select("c1")
	require.NoError(t, err)
	assert.Equal(t, "c1", s.ActiveID())

	_, err = s.Select("missing")
	assert.True(t, errors.Is(err, chaterrors.ErrNotFound))
	assert.Equal(t, "c1", s.ActiveID())

	require.NoError(t, s.Remove("c1"))
	assert.Equal(t, "", s.ActiveID())
	assert.False(t, s.Messages().IsLoaded("c1"))
	_, err = s.Active()
	assert.True(t, errors.Is(err, chaterrors.ErrInvalidState))

	assert.True(t, errors.Is(s.Remove("c1"), chaterrors.ErrNotFound))
}

func TestTouchNeverMovesBackwards(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4")
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	_, err := s.Create(&Conversation{ID: "c1", CreatedAt: t0})
	require.NoError(t, err)

	require.NoError(t, s.Touch("c1", t0.Add(time.Hour)))
	require.NoError(t, s.Touch("c1", t0.Add(time.Minute)))

	c, err := s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, t0.Add(time.Hour), c.LastMessageAt)
}

func TestTouchDerivesTitle(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4")
	_, err := s.Create(&Conversation{ID: "c1"})
	require.NoError(t, err)

	long := "What is the capital of France?\nAnd also, what is the population of Paris today?"
	require.NoError(t, s.Messages().Append("c1", NewMessage(RoleUser, long)))
	require.NoError(t, s.Touch("c1", time.Now()))

	c, err := s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, 50, len([]rune(c.Title)))
	assert.True(t, strings.HasSuffix(c.Title, "..."))
	assert.NotContains(t, c.Title, "\n")

	require.NoError(t, s.SetTitle("c1", "Geography"))
	require.NoError(t, s.Touch("c1", time.Now()))
	c, err = s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "Geography", c.Title)
}

func TestListOrdersByRecency(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4")
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Create(&Conversation{ID: id, CreatedAt: t0})
		require.NoError(t, err)
	}
	require.NoError(t, s.Touch("a", t0.Add(time.Hour)))

	var ids []string
	for _, c := range s.List() {
		ids = append(ids, c.ID)
	}
	// b and c tie, newest creation first
	assert.Equal(t, []string{"a", "c", "b"}, ids)
}

func TestReplaceKeepsProvisionalAndActive(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4")
	local, err := s.NewProvisional()
	require.NoError(t, err)
	_, err = s.Create(&Conversation{ID: "stale"})
	require.NoError(t, err)

	s.Replace([]*Conversation{
		{ID: "srv1", Title: "Server one", Model: "gpt-4o"},
	})

	assert.Equal(t, 2, s.Len())
	_, err = s.Get("stale")
	assert.True(t, errors.Is(err, chaterrors.ErrNotFound))
	assert.False(t, s.Messages().IsLoaded("stale"))
	_, err = s.Get(local.ID)
	require.NoError(t, err)
	assert.Equal(t, "", s.ActiveID())
}

func TestReplaceKeepsLocalModel(t *testing.T) {
	s := NewConversationStore(nil, "gpt-4")
	_, err := s.Create(&Conversation{ID: "c1", Model: "gpt-4o"})
	require.NoError(t, err)
	require.NoError(t, s.SetModel("c1", "claude-3-opus"))

	s.Replace([]*Conversation{
		{ID: "c1", Title: "From server", Model: "gpt-4o"},
		{ID: "c2", Model: "gemini-2.0-flash"},
	})

	c1, err := s.Get("c1")
	require.NoError(t, err)
	assert.Equal(t, "claude-3-opus", c1.Model)
	assert.Equal(t, "From server", c1.Title)
	c2, err := s.Get("c2")
	require.NoError(t, err)
	assert.Equal(t, "gemini-2.0-flash", c2.Model)
}

func TestFormatLastActivity(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "Unknown", FormatLastActivity(time.Time{}, now))
	assert.Equal(t, "Today", FormatLastActivity(now.Add(-time.Hour), now))
	assert.Equal(t, "Yesterday", FormatLastActivity(now.Add(-30*time.Hour), now))
	assert.Equal(t, "5 days ago", FormatLastActivity(now.Add(-100*time.Hour), now))
	assert.Equal(t, "Apr 1, 2024", FormatLastActivity(time.Date(2024, 4, 1, 9, 0, 0, 0, time.UTC), now))
}

func TestModelDisplayName(t *testing.T) {
	assert.Equal(t, "GPT-4o", ModelDisplayName("gpt-4o"))
	assert.Equal(t, "Claude 3.5 Sonnet", ModelDisplayName("claude-3-5-sonnet"))
	assert.Equal(t, "my-model", ModelDisplayName("my-model"))
	assert.True(t, IsKnownModel("gemini-2.0-flash"))
}

func TestExportYAML(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := &Conversation{ID: "c1", Title: "Hello", Model: "gpt-4", CreatedAt: ts, LastMessageAt: ts}
	msgs := []*Message{
		NewMessage(RoleUser, "Hi", WithID("u1"), WithTimestamp(ts)),
		NewAssistantMessage("Hello", "gpt-4", WithID("a1"), WithTimestamp(ts)),
	}

	var buf bytes.Buffer
	require.NoError(t, ExportYAML(&buf, c, msgs))
	assert.Contains(t, buf.String(), "title: Hello")

	exp, err := ImportYAML(&buf)
	require.NoError(t, err)
	assert.Equal(t, "c1", exp.Conversation.ID)
	require.Len(t, exp.Messages, 2)
	assert.Equal(t, "gpt-4", exp.Messages[1].Model)
}

func TestEstimateTokens(t *testing.T) {
	msgs := []*Message{NewMessage(RoleUser, "hello world")}
	n, err := EstimateTokens("gpt-4", msgs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = EstimateTokens("some-unknown-model", msgs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}
