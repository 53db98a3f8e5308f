package api

import (
	"bytes"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard/domain"
)

// Deps bundles what the task routes need.
type Deps struct {
	Store   Storage
	Auth    Authenticator
	Deduper Deduper
	Events  *EventPublisher
	Log     *log.Logger
	Now     func() time.Time
}

// Register wires up the task routes, their legacy aliases and the health
// check on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Log == nil {
		d.Log = log.StandardLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}

	e.GET("/healthz", healthz())

	e.GET("/api/tasks", getTasks(d, "/api/tasks", false))
	e.POST("/api/tasks", createTask(d, "/api/tasks", false))
	e.PUT("/api/tasks/:id", updateTask(d, "/api/tasks/:id", false))
	e.PUT("/api/tasks/:id/status", updateTaskStatus(d, "/api/tasks/:id/status"))
	e.DELETE("/api/tasks/:id", deleteTask(d, "/api/tasks/:id"))

	e.GET("/getTodo", getTasks(d, "/getTodo", true))
	e.POST("/createTodo", createTask(d, "/createTodo", true))
	e.PUT("/updateTodo/:id", updateTask(d, "/updateTodo/:id", true))
	e.PUT("/updateTodoStatus/:id", updateTaskStatus(d, "/updateTodoStatus/:id"))
	e.DELETE("/deleteTodo/:id", deleteTask(d, "/deleteTodo/:id"))
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

// begin starts the metrics of a request and authenticates it. A non-nil
// error means the 401 response was already written.
func begin(c echo.Context, d Deps, route string) (*taskRequestMetrics, Session, error) {
	metrics, spanCtx := newTaskRequestMetrics(c.Request().Context(), d.Log, c.Request().Method, route)
	c.SetRequest(c.Request().WithContext(spanCtx))

	authStart := time.Now()
	sess, authErr := d.Auth.SessionFromAuthHeader(authHeaderFromRequest(c.Request()))
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		if err := c.String(http.StatusUnauthorized, authErr.Error()); err != nil {
			return metrics, Session{}, err
		}
		return metrics, Session{}, authErr
	}
	return metrics, sess, nil
}

func decodeStrict(c echo.Context, out any) error {
	data, err := readCapped(c.Request().Body, maxBodySize)
	if err != nil {
		return err
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(out)
}

func decodeLoose(c echo.Context, out any) error {
	data, err := readCapped(c.Request().Body, maxBodySize)
	if err != nil {
		return err
	}
	return sonic.ConfigStd.Unmarshal(data, out)
}

// decodeFailure answers a request whose body could not be decoded.
func decodeFailure(c echo.Context, metrics *taskRequestMetrics, err error) error {
	if errors.Is(err, errBodyTooLarge) {
		metrics.SetErrorStage("body_too_large")
		return c.String(http.StatusRequestEntityTooLarge, errBodyTooLarge.Error())
	}
	metrics.SetErrorStage("decode")
	return c.String(http.StatusBadRequest, "invalid body")
}

// storeFailure maps a storage error to a response.
func storeFailure(c echo.Context, d Deps, metrics *taskRequestMetrics, op string, err error) error {
	if errors.Is(err, domain.ErrTaskNotFound) {
		metrics.SetErrorStage("not_found")
		return c.String(http.StatusNotFound, domain.ErrTaskNotFound.Error())
	}
	metrics.SetErrorStage("storage")
	d.Log.WithField("op", op).WithError(err).Error("storage failure")
	return c.String(http.StatusInternalServerError, err.Error())
}

func (d Deps) publish(userID, taskID, typ string, data any) {
	if d.Events == nil {
		return
	}
	ev := domain.TaskEvent{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		TaskID:    taskID,
		Timestamp: nextTimestamp(),
	}
	if data != nil {
		raw, err := sonic.ConfigStd.Marshal(data)
		if err != nil {
			d.Log.WithField("event_type", typ).WithError(err).Error("encode event data")
			return
		}
		ev.Data = raw
	}
	d.Events.Publish(ev)
}

func getTasks(d Deps, route string, legacy bool) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, sess, authErr := begin(c, d, route)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		if authErr != nil {
			return nil
		}

		fetchStart := time.Now()
		tasks, fetchErr := d.Store.FetchTasks(c.Request().Context(), sess.UserID)
		metrics.ObserveStore(time.Since(fetchStart))
		if fetchErr != nil {
			return storeFailure(c, d, metrics, "fetch", fetchErr)
		}
		metrics.SetTasksReturned(len(tasks))

		encodeStart := time.Now()
		if legacy {
			err = c.JSON(http.StatusOK, dataResponse[[]legacyTask]{Data: toLegacy(tasks)})
		} else {
			err = c.JSON(http.StatusOK, dataResponse[[]domain.Task]{Data: tasks})
		}
		metrics.ObserveEncode(time.Since(encodeStart))
		if err != nil {
			metrics.SetErrorStage("encode_response")
		}
		return err
	}
}

func createTask(d Deps, route string, legacy bool) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, sess, authErr := begin(c, d, route)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		if authErr != nil {
			return nil
		}
		ctx := c.Request().Context()

		var n domain.NewTask
		if legacy {
			var body legacyTaskBody
			if decErr := decodeLoose(c, &body); decErr != nil {
				return decodeFailure(c, metrics, decErr)
			}
			n = body.newTask()
		} else if decErr := decodeStrict(c, &n); decErr != nil {
			return decodeFailure(c, metrics, decErr)
		}
		if vErr := n.Validate(d.Now().UTC()); vErr != nil {
			metrics.SetErrorStage("validate")
			return c.String(http.StatusBadRequest, vErr.Error())
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		metrics.SetIdempotencyKeyProvided(key != "")
		if key != "" && d.Deduper != nil {
			added, dErr := d.Deduper.Add(ctx, sess.UserID, key)
			if dErr != nil {
				metrics.SetErrorStage("dedupe")
				d.Log.WithError(dErr).Error("dedupe failed")
				return c.String(http.StatusInternalServerError, "dedupe failed")
			}
			if !added {
				metrics.SetErrorStage("duplicate")
				return c.String(http.StatusConflict, "duplicate request")
			}
		}

		task := domain.Task{
			ID:          uuid.NewString(),
			Title:       strings.TrimSpace(n.Title),
			Description: strings.TrimSpace(n.Description),
			Status:      n.Status,
			CreatedAt:   n.CreatedAt.UTC(),
		}
		metrics.SetTaskID(task.ID)

		storeStart := time.Now()
		insertErr := d.Store.InsertTask(ctx, sess.UserID, task)
		metrics.ObserveStore(time.Since(storeStart))
		if insertErr != nil {
			if key != "" && d.Deduper != nil {
				if rerr := d.Deduper.Remove(ctx, sess.UserID, key); rerr != nil {
					d.Log.WithFields(log.Fields{"key": key, "user": sess.UserID}).WithError(rerr).Error("dedupe rollback failed")
				}
			}
			return storeFailure(c, d, metrics, "create", insertErr)
		}

		d.publish(sess.UserID, task.ID, domain.TaskCreated, task)
		if legacy {
			return c.JSON(http.StatusCreated, dataResponse[legacyTask]{Data: legacyTask{Task: task, LegacyID: task.ID}})
		}
		return c.JSON(http.StatusCreated, dataResponse[domain.Task]{Data: task})
	}
}

func updateTask(d Deps, route string, legacy bool) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, sess, authErr := begin(c, d, route)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		if authErr != nil {
			return nil
		}
		id := c.Param("id")
		metrics.SetTaskID(id)

		var p domain.TaskPatch
		if legacy {
			// The legacy web client resends status and createdAt on edit; only
			// the text fields are applied.
			var body legacyTaskBody
			if decErr := decodeLoose(c, &body); decErr != nil {
				return decodeFailure(c, metrics, decErr)
			}
			p = domain.TaskPatch{Title: body.Title, Description: body.Description}
		} else if decErr := decodeStrict(c, &p); decErr != nil {
			return decodeFailure(c, metrics, decErr)
		}
		if vErr := p.Validate(); vErr != nil {
			metrics.SetErrorStage("validate")
			return c.String(http.StatusBadRequest, vErr.Error())
		}
		p = p.Trimmed()

		storeStart := time.Now()
		updErr := d.Store.UpdateTask(c.Request().Context(), sess.UserID, id, p)
		metrics.ObserveStore(time.Since(storeStart))
		if updErr != nil {
			return storeFailure(c, d, metrics, "update", updErr)
		}

		d.publish(sess.UserID, id, domain.TaskUpdated, p)
		return c.NoContent(http.StatusNoContent)
	}
}

func updateTaskStatus(d Deps, route string) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, sess, authErr := begin(c, d, route)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		if authErr != nil {
			return nil
		}
		id := c.Param("id")
		metrics.SetTaskID(id)

		var body statusRequest
		if decErr := decodeStrict(c, &body); decErr != nil {
			return decodeFailure(c, metrics, decErr)
		}
		status, pErr := domain.ParseStatus(body.Status)
		if pErr != nil {
			metrics.SetErrorStage("validate")
			return c.String(http.StatusBadRequest, pErr.Error())
		}

		storeStart := time.Now()
		updErr := d.Store.UpdateTaskStatus(c.Request().Context(), sess.UserID, id, status)
		metrics.ObserveStore(time.Since(storeStart))
		if updErr != nil {
			return storeFailure(c, d, metrics, "update status", updErr)
		}

		d.publish(sess.UserID, id, domain.TaskStatusChanged, statusRequest{Status: string(status)})
		return c.NoContent(http.StatusNoContent)
	}
}

func deleteTask(d Deps, route string) echo.HandlerFunc {
	return func(c echo.Context) (err error) {
		metrics, sess, authErr := begin(c, d, route)
		defer func() {
			metrics.Log(c.Response().Status, err)
		}()
		if authErr != nil {
			return nil
		}
		id := c.Param("id")
		metrics.SetTaskID(id)

		storeStart := time.Now()
		delErr := d.Store.DeleteTask(c.Request().Context(), sess.UserID, id)
		metrics.ObserveStore(time.Since(storeStart))
		if delErr != nil {
			return storeFailure(c, d, metrics, "delete", delErr)
		}

		d.publish(sess.UserID, id, domain.TaskDeleted, nil)
		return c.NoContent(http.StatusNoContent)
	}
}
