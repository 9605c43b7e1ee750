package memory

import (
	"cmp"
	"slices"

	"github.com/bissquit/task-garden/internal/domain"
)

func sortUsers(users []domain.User) {
	slices.SortFunc(users, func(a, b domain.User) int {
		if c := cmp.Compare(a.Name, b.Name); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
