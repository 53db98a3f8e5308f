package storage

import (
	"cmp"
	"slices"
	"time"

	"github.com/bytedance/sonic"

	"taskboard/domain"
)

const edmDateTime = "Edm.DateTime"

// entity holds the table keys of a row. The service-managed Timestamp is
// left out.
type entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	entity
	Title         string    `json:"Title"`
	Description   string    `json:"Description"`
	Status        string    `json:"Status"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
}

// taskUpdate carries partial updates for a task.
type taskUpdate struct {
	entity
	Title       *string `json:"Title,omitempty"`
	Description *string `json:"Description,omitempty"`
	Status      *string `json:"Status,omitempty"`
}

type userEntity struct {
	entity
	Email string `json:"Email,omitempty"`
	Name  string `json:"Name,omitempty"`
}

func newTaskEntity(userID string, t domain.Task) taskEntity {
	return taskEntity{
		entity:        entity{PartitionKey: userID, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		CreatedAt:     t.CreatedAt.UTC(),
		CreatedAtType: edmDateTime,
	}
}

// decodeTaskEntity converts a table row into a task. Rows with a status
// outside the board columns are passed through; the client normalizes them.
func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          ent.RowKey,
		Title:       ent.Title,
		Description: ent.Description,
		Status:      domain.Status(ent.Status),
		CreatedAt:   ent.CreatedAt,
	}, nil
}

func sortByCreation(tasks []domain.Task) {
	slices.SortStableFunc(tasks, func(a, b domain.Task) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
