package ui

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/meetdash/internal/errors"
)

func TestAddNewestFirst(t *testing.T) {
	s := New()
	s.Success("one")
	s.Info("two")

	items := s.Notifications()
	require.Len(t, items, 2)
	assert.Equal(t, "two", items[0].Message)
	assert.Equal(t, KindInfo, items[0].Kind)
	assert.Equal(t, "Info", items[0].Title)
	assert.Equal(t, "one", items[1].Message)
	assert.NotEqual(t, items[0].ID, items[1].ID)
	assert.False(t, items[0].Read)
}

func TestFeedCappedAt50(t *testing.T) {
	s := New()
	for i := 0; i < 60; i++ {
		s.Info(fmt.Sprint(i))
	}
	items := s.Notifications()
	require.Len(t, items, MaxNotifications)
	assert.Equal(t, "59", items[0].Message)
	assert.Equal(t, "10", items[MaxNotifications-1].Message)
}

func TestMarkReadAndClear(t *testing.T) {
	s := New()
	n := s.Add(KindWarning, "Heads up", "disk")
	s.Error("boom")
	assert.Equal(t, 2, s.Unread())

	assert.True(t, s.MarkRead(n.ID))
	assert.False(t, s.MarkRead("missing"))
	assert.Equal(t, 1, s.Unread())

	s.MarkAllRead()
	assert.Zero(t, s.Unread())

	s.Clear()
	assert.Empty(t, s.Notifications())
}

func TestSinkReceivesToasts(t *testing.T) {
	var got []Notification
	s := New(WithSink(func(n Notification) { got = append(got, n) }))
	s.Success("Welcome back!")
	require.Len(t, got, 1)
	assert.Equal(t, KindSuccess, got[0].Kind)
}

func TestPresentErrorUsesDashMessage(t *testing.T) {
	s := New()
	s.PresentError(errors.NewInvalidCredentialsError("Invalid credentials"))
	s.PresentError(fmt.Errorf("plain failure"))
	s.PresentError(nil)

	items := s.Notifications()
	require.Len(t, items, 2)
	assert.Equal(t, "plain failure", items[0].Message)
	assert.Equal(t, "Invalid credentials", items[1].Message)
	assert.Equal(t, KindError, items[1].Kind)
}

func TestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", FileName)

	s := New()
	require.NoError(t, s.Load(path), "missing file is an empty feed")
	s.Success("saved")
	require.NoError(t, s.Save(path))

	loaded := New()
	require.NoError(t, loaded.Load(path))
	items := loaded.Notifications()
	require.Len(t, items, 1)
	assert.Equal(t, "saved", items[0].Message)
	assert.Equal(t, KindSuccess, items[0].Kind)
}
