package tasks

import (
	"testing"
	"time"

	"github.com/bissquit/task-garden/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seededStore(t *testing.T, tasks ...domain.Task) *Store {
	t.Helper()
	s := NewStore(nil, nil, Config{})
	s.state.Set(Snapshot{Tasks: tasks, Loaded: true})
	return s
}

func task(id, title, unit string, status domain.TaskStatus, assignees ...string) domain.Task {
	return domain.Task{
		ID:        id,
		Title:     title,
		Unit:      unit,
		Status:    status,
		Assignees: assignees,
	}
}

func TestStore_Search(t *testing.T) {
	s := seededStore(t,
		task("1", "Relatório mensal", "Financeiro", domain.TaskStatusTodo),
		task("2", "Inventário", "Almoxarifado", domain.TaskStatusProgress),
		domain.Task{ID: "3", Title: "Reunião", Description: "Pauta do RELATÓRIO anual", Status: domain.TaskStatusTodo},
	)

	tests := []struct {
		term     string
		expected []string
	}{
		{"", []string{"1", "2", "3"}},
		{"  ", []string{"1", "2", "3"}},
		{"relatório", []string{"1", "3"}},
		{"FINANCEIRO", []string{"1"}},
		{"almox", []string{"2"}},
		{"nothing", []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			assert.Equal(t, tt.expected, ids(s.Search(tt.term)))
		})
	}
}

func TestStore_Board(t *testing.T) {
	s := seededStore(t,
		task("1", "a", "", domain.TaskStatusCompleted),
		task("2", "b", "", domain.TaskStatusTodo),
		task("3", "c", "", domain.TaskStatusTodo),
	)

	board := s.Board()
	require.Len(t, board, 3)
	assert.Equal(t, domain.TaskStatusTodo, board[0].Status)
	assert.Equal(t, []string{"2", "3"}, ids(board[0].Tasks))
	assert.Equal(t, domain.TaskStatusProgress, board[1].Status)
	assert.Empty(t, board[1].Tasks)
	assert.NotNil(t, board[1].Tasks)
	assert.Equal(t, []string{"1"}, ids(board[2].Tasks))
}

func TestStore_Stats(t *testing.T) {
	s := seededStore(t,
		task("1", "a", "", domain.TaskStatusCompleted, "u1", "u2"),
		task("2", "b", "", domain.TaskStatusTodo, "u2"),
		task("3", "c", "", domain.TaskStatusProgress, "u2", "u3"),
	)

	stats := s.Stats()
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, map[domain.TaskStatus]int{
		domain.TaskStatusTodo:      1,
		domain.TaskStatusProgress:  1,
		domain.TaskStatusCompleted: 1,
	}, stats.ByStatus)
	assert.Equal(t, []UserProgress{
		{UserID: "u2", Total: 3, Completed: 1},
		{UserID: "u1", Total: 1, Completed: 1},
		{UserID: "u3", Total: 1, Completed: 0},
	}, stats.PerUser)
}

func TestStore_StatsEmpty(t *testing.T) {
	stats := seededStore(t).Stats()
	assert.Equal(t, 0, stats.Total)
	assert.Len(t, stats.ByStatus, 3)
	assert.Empty(t, stats.PerUser)
}

func TestStore_Recent(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	older := task("old", "a", "", domain.TaskStatusTodo)
	older.CreatedAt = base
	newer := task("new", "b", "", domain.TaskStatusTodo)
	newer.CreatedAt = base.Add(time.Hour)
	middle := task("mid", "c", "", domain.TaskStatusTodo)
	middle.CreatedAt = base.Add(time.Minute)

	s := seededStore(t, older, newer, middle)

	assert.Equal(t, []string{"new", "mid"}, ids(s.Recent(2)))
	assert.Equal(t, []string{"new", "mid", "old"}, ids(s.Recent(10)))
	assert.Empty(t, s.Recent(0))
}

func TestStore_ViewsReturnCopies(t *testing.T) {
	s := seededStore(t, task("1", "a", "", domain.TaskStatusTodo, "u1"))

	got, ok := s.GetByID("1")
	require.True(t, ok)
	got.Assignees[0] = "changed"

	again, _ := s.GetByID("1")
	assert.Equal(t, []string{"u1"}, again.Assignees)
}
