package main

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/fernwood/warden/auth"
	"github.com/fernwood/warden/content"
	"github.com/fernwood/warden/moderation/classifier"
	"github.com/fernwood/warden/moderation/flagstore"
	"github.com/fernwood/warden/moderation/queue"

	"github.com/labstack/echo/v4"
)

type GenericStatus struct {
	Status  string `json:"status"`
	Daemon  string `json:"daemon"`
	Message string `json:"message,omitempty"`
}

func (srv *Server) HandleHealthCheck(c echo.Context) error {
	return c.JSON(200, GenericStatus{Status: "ok", Daemon: "warden"})
}

type previewRequest struct {
	Text string `json:"text"`
}

// HandlePreview runs the synchronous classification path. Nothing is
// persisted; the verdict is returned to the caller.
func (srv *Server) HandlePreview(c echo.Context) error {
	var req previewRequest
	if err := c.Bind(&req); err != nil {
		return &echo.HTTPError{Code: 400, Message: "invalid request body"}
	}
	verdict, err := srv.engine.PreviewCheck(c.Request().Context(), req.Text)
	if err != nil {
		return err
	}
	return c.JSON(200, verdict)
}

// HandleSubmit is called by the CRUD layer when a comment or review is
// created. The content is already published; moderation happens behind it.
func (srv *Server) HandleSubmit(c echo.Context) error {
	var ref content.ContentRef
	if err := c.Bind(&ref); err != nil {
		return &echo.HTTPError{Code: 400, Message: "invalid request body"}
	}
	if !ref.Type.Valid() {
		return &echo.HTTPError{Code: 400, Message: fmt.Sprintf("unsupported content type: %q", ref.Type)}
	}
	if ref.ID == "" || ref.AuthorID == "" {
		return &echo.HTTPError{Code: 400, Message: "contentId and authorId are required"}
	}
	if err := srv.engine.EnqueueContent(c.Request().Context(), &ref); err != nil {
		return err
	}
	return c.JSON(202, GenericStatus{Status: "accepted", Daemon: "warden"})
}

func (srv *Server) HandleListFlags(c echo.Context) error {
	principal, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	if err := principal.RequireAdmin(); err != nil {
		return err
	}

	filter := flagstore.ListFilter{
		Status:      c.QueryParam("status"),
		ContentType: content.ContentType(c.QueryParam("type")),
	}
	page, limit := queryPage(c)
	flags, err := srv.engine.Flags.List(c.Request().Context(), filter, page, limit)
	if err != nil {
		return err
	}
	return c.JSON(200, map[string]interface{}{"flags": flags, "page": page})
}

// HandleUserFlags lists flags on a user's own content. Users see only their
// own; admins can read anyone's.
func (srv *Server) HandleUserFlags(c echo.Context) error {
	principal, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	userID := c.Param("userID")
	if principal.UserID != userID {
		if err := principal.RequireAdmin(); err != nil {
			return err
		}
	}

	page, limit := queryPage(c)
	flags, err := srv.engine.Flags.ListByAuthor(c.Request().Context(), userID, page, limit)
	if err != nil {
		return err
	}
	return c.JSON(200, map[string]interface{}{"flags": flags, "page": page})
}

func (srv *Server) HandleApproveFlag(c echo.Context) error {
	principal, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	flagID, err := paramFlagID(c)
	if err != nil {
		return err
	}
	rec, err := srv.engine.ApproveFlag(c.Request().Context(), principal, flagID)
	if err != nil {
		return err
	}
	return c.JSON(200, rec)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (srv *Server) HandleRejectFlag(c echo.Context) error {
	principal, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	flagID, err := paramFlagID(c)
	if err != nil {
		return err
	}
	var req rejectRequest
	if err := c.Bind(&req); err != nil {
		return &echo.HTTPError{Code: 400, Message: "invalid request body"}
	}
	rec, err := srv.engine.RejectFlag(c.Request().Context(), principal, flagID, req.Reason)
	if err != nil {
		return err
	}
	return c.JSON(200, rec)
}

func (srv *Server) HandleStats(c echo.Context) error {
	principal, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	if err := principal.RequireAdmin(); err != nil {
		return err
	}
	summary, err := srv.stats.Summary(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(200, summary)
}

type deadLetterJob struct {
	JobID       string `json:"jobId"`
	ContentType string `json:"contentType"`
	ContentID   string `json:"contentId"`
	AuthorID    string `json:"authorId"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"lastError"`
}

// HandleDeadLetter lists jobs which exhausted their retries and are held for
// inspection.
func (srv *Server) HandleDeadLetter(c echo.Context) error {
	principal, err := auth.FromEcho(c)
	if err != nil {
		return err
	}
	if err := principal.RequireAdmin(); err != nil {
		return err
	}

	_, limit := queryPage(c)
	jobs, err := srv.jobs.ListByState(c.Request().Context(), queue.StateDeadLetter, limit)
	if err != nil {
		return err
	}
	out := make([]deadLetterJob, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, deadLetterJob{
			JobID:       j.ID(),
			ContentType: string(j.ContentType()),
			ContentID:   j.ContentID(),
			AuthorID:    j.AuthorID(),
			Attempts:    j.Attempt(),
			LastError:   j.LastError(),
		})
	}
	return c.JSON(200, map[string]interface{}{"jobs": out})
}

func queryPage(c echo.Context) (int, int) {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	return flagstore.ClampPage(page, limit)
}

func paramFlagID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("flagID"), 10, 32)
	if err != nil {
		return 0, &echo.HTTPError{Code: 400, Message: "invalid flag ID"}
	}
	return uint(id), nil
}

func (srv *Server) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "internal server error"

	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		code = he.Code
		message = fmt.Sprintf("%s", he.Message)
	case errors.Is(err, auth.ErrNoPrincipal):
		code = http.StatusUnauthorized
		message = err.Error()
	case errors.Is(err, auth.ErrForbidden):
		code = http.StatusForbidden
		message = err.Error()
	case errors.Is(err, flagstore.ErrNotFound), errors.Is(err, content.ErrNotFound), errors.Is(err, queue.ErrJobNotFound):
		code = http.StatusNotFound
		message = err.Error()
	case errors.Is(err, flagstore.ErrInvalidTransition):
		code = http.StatusConflict
		message = err.Error()
	case errors.Is(err, classifier.ErrInvalidInput):
		code = http.StatusBadRequest
		message = err.Error()
	case errors.Is(err, classifier.ErrUnavailable), errors.Is(err, queue.ErrQueueUnavailable):
		code = http.StatusServiceUnavailable
		message = err.Error()
	}

	if code >= 500 {
		srv.logger.Warn("warden-http-internal-error", "err", err)
	}
	c.JSON(code, GenericStatus{Status: "error", Daemon: "warden", Message: message})
}
