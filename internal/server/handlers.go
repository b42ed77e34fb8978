package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"plan_store/internal/plan"
	"plan_store/internal/schema"
)

const unexpectedMessage = "Something went wrong!!"

type MessageResponse struct {
	Message  string `json:"message"`
	Type     string `json:"type,omitempty"`
	Value    string `json:"value,omitempty"`
	ObjectID string `json:"objectId,omitempty"`
}

type SchemaErrorResponse struct {
	Message string             `json:"message"`
	Type    string             `json:"type"`
	Errors  []schema.Violation `json:"errors"`
}

// readDocument returns nil unless the body holds exactly one JSON object.
func readDocument(ctx *gin.Context) map[string]any {
	raw, err := io.ReadAll(ctx.Request.Body)
	if err != nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc map[string]any
	if err := dec.Decode(&doc); err != nil {
		return nil
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil
	}
	return doc
}

func (server *RestServer) handleCreate(ctx *gin.Context) {
	doc := readDocument(ctx)

	objectID, etag, err := server.plans.Create(ctx.Request.Context(), doc)
	if err != nil {
		id, _ := doc["objectId"].(string)
		server.fail(ctx, id, err, http.StatusUnauthorized)
		return
	}

	ctx.Header("ETag", etag)
	ctx.JSON(http.StatusCreated, MessageResponse{
		Message:  "Plan created successfully",
		ObjectID: objectID,
	})
}

func (server *RestServer) handleRead(ctx *gin.Context) {
	objectID := ctx.Param("objectId")

	res, err := server.plans.Get(ctx.Request.Context(), objectID, ctx.GetHeader("If-None-Match"))
	if err != nil {
		server.fail(ctx, objectID, err, http.StatusUnauthorized)
		return
	}

	ctx.Header("ETag", res.ETag)
	if res.NotModified {
		ctx.Status(http.StatusNotModified)
		return
	}
	ctx.JSON(http.StatusOK, res.Document)
}

func (server *RestServer) handleDelete(ctx *gin.Context) {
	objectID := ctx.Param("objectId")

	if err := server.plans.Delete(ctx.Request.Context(), objectID, ctx.GetHeader("If-Match")); err != nil {
		server.fail(ctx, objectID, err, http.StatusUnauthorized)
		return
	}
	ctx.Status(http.StatusNoContent)
}

// handleReplace serves PUT and PATCH, which differ only in the status of
// unexpected failures.
func (server *RestServer) handleReplace(unexpected int) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		objectID := ctx.Param("objectId")
		doc := readDocument(ctx)

		res, err := server.plans.Replace(ctx.Request.Context(), objectID, doc, ctx.GetHeader("If-Match"))
		if err != nil {
			server.fail(ctx, objectID, err, unexpected)
			return
		}

		ctx.Header("ETag", res.ETag)
		ctx.JSON(http.StatusOK, res.Document)
	}
}

func (server *RestServer) fail(ctx *gin.Context, objectID string, err error, unexpected int) {
	var (
		validation   *plan.ValidationError
		precondition *plan.PreconditionFailedError
		mismatch     *plan.IdentityMismatchError
	)

	switch {
	case errors.As(err, &validation):
		ctx.JSON(http.StatusBadRequest, SchemaErrorResponse{
			Message: "Invalid Schema!",
			Type:    "Invalid",
			Errors:  validation.Violations,
		})
	case errors.As(err, &mismatch):
		ctx.JSON(http.StatusBadRequest, MessageResponse{
			Message: fmt.Sprintf("Invalid body! - %s must be %s", mismatch.Field, mismatch.Expected),
			Type:    "Invalid",
			Value:   mismatch.Got,
		})
	case errors.Is(err, plan.ErrInvalidBody), errors.Is(err, plan.ErrMissingIdentity),
		errors.Is(err, plan.ErrInvalidIdentity), errors.Is(err, plan.ErrReservedField):
		ctx.JSON(http.StatusBadRequest, MessageResponse{
			Message: "Invalid body!",
			Type:    "Invalid",
		})
	case errors.Is(err, plan.ErrNotFound):
		ctx.JSON(http.StatusNotFound, MessageResponse{
			Message: "Invalid ObjectId! - " + objectID,
			Value:   objectID,
			Type:    "Invalid",
		})
	case errors.Is(err, plan.ErrETagRequired):
		ctx.JSON(http.StatusNotFound, MessageResponse{Message: "ETag not provided!"})
	case errors.As(err, &precondition):
		ctx.Header("ETag", precondition.ETag)
		ctx.Status(http.StatusPreconditionFailed)
	case errors.Is(err, plan.ErrAlreadyExists):
		ctx.JSON(http.StatusConflict, MessageResponse{
			Message: "Plan already exists! - " + objectID,
			Type:    "Already Exists",
		})
	default:
		server.log.Error().Err(err).
			Str("request_id", ctx.GetString(requestIDKey)).
			Str("object_id", objectID).
			Msg("plan request failed")
		ctx.JSON(unexpected, MessageResponse{Message: unexpectedMessage})
	}
}
