package conversation

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/veyra/pkg/chaterrors"
)

func contents(msgs []*Message) []string {
	ret := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ret = append(ret, m.Content)
	}
	return ret
}

func loadedStore(t *testing.T, convID string, msgs ...*Message) *MessageStore {
	t.Helper()
	s := NewMessageStore()
	s.ReplaceAll(convID, msgs)
	return s
}

func TestAppendRequiresLoadedConversation(t *testing.T) {
	s := NewMessageStore()
	err := s.Append("c1", NewMessage(RoleUser, "hi"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, chaterrors.ErrInvalidState))
	assert.False(t, s.IsLoaded("c1"))
}

func TestAppendKeepsOrder(t *testing.T) {
	s := loadedStore(t, "c1")
	for _, c := range []string{"a", "b", "c", "d"} {
		role := RoleUser
		if c == "b" || c == "d" {
			role = RoleAssistant
		}
		require.NoError(t, s.Append("c1", NewMessage(role, c)))
	}

	msgs, err := s.Messages("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d"}, contents(msgs))
	assert.Equal(t, 4, s.Len("c1"))
}

func TestAppendRejectsDuplicateID(t *testing.T) {
	s := loadedStore(t, "c1")
	m := NewMessage(RoleUser, "a")
	require.NoError(t, s.Append("c1", m))
	err := s.Append("c1", m)
	assert.True(t, errors.Is(err, chaterrors.ErrInvalidState))
}

func TestMessagesReturnsCopies(t *testing.T) {
	s := loadedStore(t, "c1", NewMessage(RoleUser, "original"))
	msgs, err := s.Messages("c1")
	require.NoError(t, err)
	msgs[0].Content = "mutated"

	msgs, err = s.Messages("c1")
	require.NoError(t, err)
	assert.Equal(t, "original", msgs[0].Content)
}

func TestUpdateSameContentIsNoop(t *testing.T) {
	u1 := NewMessage(RoleUser, "Hi", WithID("u1"))
	s := loadedStore(t, "c1", u1)

	changed, err := s.Update("c1", "u1", "Hi")
	require.NoError(t, err)
	assert.False(t, changed)

	m, err := s.Get("c1", "u1")
	require.NoError(t, err)
	assert.False(t, m.IsEdited)
}

func TestUpdateMarksUserMessagesEdited(t *testing.T) {
	s := loadedStore(t, "c1",
		NewMessage(RoleUser, "Hi", WithID("u1")),
		NewAssistantMessage("Hello", "gpt-4", WithID("a1")),
	)

	changed, err := s.Update("c1", "u1", "Hi there")
	require.NoError(t, err)
	assert.True(t, changed)
	m, err := s.Get("c1", "u1")
	require.NoError(t, err)
	assert.True(t, m.IsEdited)
	assert.Equal(t, "Hi there", m.Content)

	changed, err = s.Update("c1", "a1", "Hello!")
	require.NoError(t, err)
	assert.True(t, changed)
	m, err = s.Get("c1", "a1")
	require.NoError(t, err)
	assert.False(t, m.IsEdited)
}

func TestUpdateUnknownMessage(t *testing.T) {
	s := loadedStore(t, "c1")
	_, err := s.Update("c1", "nope", "x")
	assert.True(t, errors.Is(err, chaterrors.ErrNotFound))
}

func TestUpdateKeepsAttachments(t *testing.T) {
	att := Attachment{ID: "f1", Name: "a.png", MimeType: "image/png", Size: 10, URL: "http://x/f1"}
	s := loadedStore(t, "c1", NewUserMessage("look", []Attachment{att}, WithID("u1")))

	_, err := s.Update("c1", "u1", "look again")
	require.NoError(t, err)
	m, err := s.Get("c1", "u1")
	require.NoError(t, err)
	assert.Equal(t, []Attachment{att}, m.Attachments)
}

func TestTruncateAfter(t *testing.T) {
	s := loadedStore(t, "c1",
		NewMessage(RoleUser, "u1", WithID("u1")),
		NewMessage(RoleAssistant, "a1", WithID("a1")),
		NewMessage(RoleUser, "u2", WithID("u2")),
		NewMessage(RoleAssistant, "a2", WithID("a2")),
	)

	removed, err := s.TruncateAfter("c1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	msgs, err := s.Messages("c1")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "a1"}, contents(msgs))

	removed, err = s.TruncateAfter("c1", "a1")
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	_, err = s.TruncateAfter("c1", "a2")
	assert.True(t, errors.Is(err, chaterrors.ErrNotFound))
}

func TestConversationsAreIndependent(t *testing.T) {
	s := NewMessageStore()
	s.ReplaceAll("c1", nil)
	s.ReplaceAll("c2", nil)

	require.NoError(t, s.Append("c1", NewMessage(RoleUser, "one")))
	require.NoError(t, s.Append("c2", NewMessage(RoleUser, "two")))

	m1, _ := s.Messages("c1")
	m2, _ := s.Messages("c2")
	assert.Equal(t, []string{"one"}, contents(m1))
	assert.Equal(t, []string{"two"}, contents(m2))

	s.Drop("c1")
	assert.False(t, s.IsLoaded("c1"))
	assert.True(t, s.IsLoaded("c2"))
}

func TestNewUserMessagePlaceholder(t *testing.T) {
	att := Attachment{ID: "f1", Name: "doc.pdf", MimeType: "application/pdf"}
	m := NewUserMessage("   ", []Attachment{att})
	assert.Equal(t, AttachmentsPlaceholder, m.Content)
	assert.Len(t, m.Attachments, 1)

	m = NewUserMessage("  hello ", nil)
	assert.Equal(t, "hello", m.Content)
	assert.Empty(t, m.Attachments)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "a b", preview("a\nb", 10))
	assert.Equal(t, "héllo w...", preview("héllo world", 10))
	assert.Equal(t, "", preview("abc", 0))
}
