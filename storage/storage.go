package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"taskboard/domain"
)

// Storage provides access to underlying persistence mechanisms.
type Storage struct {
	taskTable  *aztables.Client
	userTable  *aztables.Client
	eventQueue *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, usersTable, eventsQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	eq, err := azqueue.NewQueueClientFromConnectionString(connStr, eventsQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:  svc.NewClient(tasksTable),
		userTable:  svc.NewClient(usersTable),
		eventQueue: eq,
	}, nil
}

// FetchTasks retrieves all tasks for the provided user, oldest first.
func (s *Storage) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	filter := partitionFilter(userID)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			task, err := decodeTaskEntity(e)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, task)
		}
	}
	sortByCreation(tasks)
	return tasks, nil
}

// InsertTask stores a new task under the user's partition.
func (s *Storage) InsertTask(ctx context.Context, userID string, task domain.Task) error {
	payload, err := sonic.ConfigStd.Marshal(newTaskEntity(userID, task))
	if err != nil {
		return err
	}
	_, err = s.taskTable.AddEntity(ctx, payload, nil)
	return err
}

// UpdateTask merges the patched fields into an existing task.
func (s *Storage) UpdateTask(ctx context.Context, userID, id string, p domain.TaskPatch) error {
	return s.mergeTask(ctx, taskUpdate{
		entity:      entity{PartitionKey: userID, RowKey: id},
		Title:       p.Title,
		Description: p.Description,
	})
}

// UpdateTaskStatus moves an existing task to another column.
func (s *Storage) UpdateTaskStatus(ctx context.Context, userID, id string, status domain.Status) error {
	st := string(status)
	return s.mergeTask(ctx, taskUpdate{
		entity: entity{PartitionKey: userID, RowKey: id},
		Status: &st,
	})
}

func (s *Storage) mergeTask(ctx context.Context, upd taskUpdate) error {
	payload, err := sonic.ConfigStd.Marshal(upd)
	if err != nil {
		return err
	}
	et := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeMerge})
	return mapNotFound(err)
}

// DeleteTask removes a task.
func (s *Storage) DeleteTask(ctx context.Context, userID, id string) error {
	_, err := s.taskTable.DeleteEntity(ctx, userID, id, nil)
	return mapNotFound(err)
}

// UpsertUser creates or replaces a user entity.
func (s *Storage) UpsertUser(ctx context.Context, u domain.User) error {
	payload, err := sonic.ConfigStd.Marshal(userEntity{
		entity: entity{PartitionKey: u.ID, RowKey: u.ID},
		Email:  u.Email,
		Name:   u.Name,
	})
	if err == nil {
		_, err = s.userTable.UpsertEntity(ctx, payload, nil)
	}
	return err
}

// PublishEvent sends a task event to the events queue.
func (s *Storage) PublishEvent(ctx context.Context, ev domain.TaskEvent) error {
	data, err := sonic.ConfigStd.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.eventQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// partitionFilter builds an OData filter for one user, doubling quotes as
// the query syntax requires.
func partitionFilter(userID string) string {
	return "PartitionKey eq '" + strings.ReplaceAll(userID, "'", "''") + "'"
}

func mapNotFound(err error) error {
	if err == nil {
		return nil
	}
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", domain.ErrTaskNotFound, respErr.ErrorCode)
	}
	return err
}
