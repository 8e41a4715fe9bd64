package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tphakala/camerad/internal/camera"
	"github.com/tphakala/camerad/internal/logger"
)

// CreateCameraRequest is the body of POST /cameras.
type CreateCameraRequest struct {
	CameraName    string               `json:"camera_name"`
	MediaSettings camera.MediaSettings `json:"media_settings"`
}

// CameraResponse reports the camera a request acted on.
type CameraResponse struct {
	CameraID    int64        `json:"camera_id"`
	PreviewSize *camera.Size `json:"preview_size,omitempty"`
	Path        string       `json:"path,omitempty"`
}

// ListAvailableCameras returns unique camera names. The list is cached;
// ?refresh=true enumerates devices again.
func (c *Controller) ListAvailableCameras(ctx echo.Context) error {
	if ctx.QueryParam("refresh") != "true" {
		if cached, ok := c.cameraCache.Get(cameraListKey); ok {
			return ctx.JSON(http.StatusOK, map[string]any{
				"cameras": cached,
				"cached":  true,
			})
		}
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	names, err := c.cameras.AvailableCameras(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	c.cameraCache.SetDefault(cameraListKey, names)

	return ctx.JSON(http.StatusOK, map[string]any{
		"cameras": names,
		"cached":  false,
	})
}

// CreateCamera opens a camera and returns its id.
func (c *Controller) CreateCamera(ctx echo.Context) error {
	var req CreateCameraRequest
	if err := ctx.Bind(&req); err != nil {
		return c.badRequest(ctx, fmt.Errorf("invalid request body: %w", err))
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	id, err := c.cameras.Create(reqCtx, req.CameraName, req.MediaSettings)
	if err != nil {
		return c.HandleError(ctx, err)
	}

	c.log.Info("camera created via API",
		logger.Int64("camera_id", id),
		logger.String("camera_name", req.CameraName))
	return ctx.JSON(http.StatusCreated, CameraResponse{CameraID: id})
}

// ListSessions returns snapshots of all live cameras.
func (c *Controller) ListSessions(ctx echo.Context) error {
	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	sessions, err := c.cameras.Sessions(reqCtx)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"sessions": sessions})
}

// InitializeCamera starts the preview and returns its size.
func (c *Controller) InitializeCamera(ctx echo.Context) error {
	id, err := cameraID(ctx)
	if err != nil {
		return c.badRequest(ctx, err)
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	size, err := c.cameras.Initialize(reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, CameraResponse{CameraID: id, PreviewSize: &size})
}

// StopRecording stops recording and returns the video path.
func (c *Controller) StopRecording(ctx echo.Context) error {
	return c.withPath(ctx, CameraService.StopVideoRecording)
}

// TakePicture captures a still image and returns its path.
func (c *Controller) TakePicture(ctx echo.Context) error {
	return c.withPath(ctx, CameraService.TakePicture)
}

func (c *Controller) withPath(ctx echo.Context, fn func(CameraService, context.Context, int64) (string, error)) error {
	id, err := cameraID(ctx)
	if err != nil {
		return c.badRequest(ctx, err)
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	path, err := fn(c.cameras, reqCtx, id)
	if err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.JSON(http.StatusOK, CameraResponse{CameraID: id, Path: path})
}

// DisposeCamera releases a camera. Disposing an unknown camera succeeds.
func (c *Controller) DisposeCamera(ctx echo.Context) error {
	id, err := cameraID(ctx)
	if err != nil {
		return c.badRequest(ctx, err)
	}

	reqCtx, cancel := c.requestContext(ctx)
	defer cancel()
	if err := c.cameras.Dispose(reqCtx, id); err != nil {
		return c.HandleError(ctx, err)
	}
	return ctx.NoContent(http.StatusNoContent)
}

// simple adapts a camera operation without a result to a handler answering
// 204 No Content.
func (c *Controller) simple(kind camera.OperationKind, fn func(CameraService, context.Context, int64) error) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		id, err := cameraID(ctx)
		if err != nil {
			return c.badRequest(ctx, err)
		}

		reqCtx, cancel := c.requestContext(ctx)
		defer cancel()
		if err := fn(c.cameras, reqCtx, id); err != nil {
			return c.HandleError(ctx, err)
		}
		c.log.Debug("camera operation completed",
			logger.Int64("camera_id", id),
			logger.String("operation", kind.String()))
		return ctx.NoContent(http.StatusNoContent)
	}
}
