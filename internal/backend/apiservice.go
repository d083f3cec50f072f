package backend

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/jo-hoe/imagestore/internal/backend/notification"
	"github.com/jo-hoe/imagestore/internal/common"
	"github.com/jo-hoe/imagestore/internal/core"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

const (
	BasePath          = "/images"
	mimeJPEG          = "image/jpeg"
	uploadFieldName   = "file"
	requesterKey      = "requester"
	authenticateRealm = "imagestore"

	// htmx request and response headers used by the gallery page
	headerHXRequest = "HX-Request"
	headerHXTrigger = "HX-Trigger"
	refreshEvent    = "refresh"
)

type APIService struct {
	config      *core.ServiceConfig
	coreService *core.CoreService
}

type listImagesRequest struct {
	Page int `validate:"min=0"`
	Size int `validate:"min=0,max=1000"`
}

func NewAPIService(config *core.ServiceConfig, coreService *core.CoreService) *APIService {
	return &APIService{
		config:      config,
		coreService: coreService,
	}
}

func (service *APIService) SetRoutes(e *echo.Echo) {
	// Set probe route
	e.GET("/probe", func(c echo.Context) error {
		return c.String(http.StatusOK, "API Service is running")
	})

	authenticated := middleware.BasicAuthWithConfig(middleware.BasicAuthConfig{
		Validator: service.authenticate,
		Realm:     authenticateRealm,
	})

	e.GET(BasePath, service.listImagesHandler)
	e.GET(BasePath+"/:filename/raw", service.rawImageHandler)
	e.POST(BasePath, service.createImageHandler, authenticated)
	e.DELETE(BasePath+"/:filename", service.deleteImageHandler, authenticated)

	e.GET("/events", notification.NewWebsocketHandler(service.coreService.Broker()).Handle)

	registry := service.coreService.Metrics()
	e.GET("/metrics", registry.EchoHandlerText)
	e.GET("/metrics.json", registry.EchoHandlerJSON)
}

func (service *APIService) authenticate(username, password string, ctx echo.Context) (bool, error) {
	requester, ok, err := service.coreService.Users().Authenticate(ctx.Request().Context(), username, password)
	if err != nil {
		slog.Error("authenticate: failed to verify credentials", "username", username, "error", err)
		return false, err
	}
	if !ok {
		slog.Warn("authenticate: rejected credentials", "username", username, "remote_ip", ctx.RealIP())
		return false, nil
	}
	ctx.Set(requesterKey, requester)
	return true, nil
}

func requesterFrom(ctx echo.Context) core.Requester {
	requester, _ := ctx.Get(requesterKey).(core.Requester)
	return requester
}

func (service *APIService) listImagesHandler(ctx echo.Context) error {
	request := listImagesRequest{Size: service.config.DefaultPageSize}
	if err := common.BindQuery(ctx, &request, map[string]*int{
		"page": &request.Page,
		"size": &request.Size,
	}); err != nil {
		return err
	}

	page, err := service.coreService.Images().ListImages(ctx.Request().Context(), request.Page, request.Size)
	if err != nil {
		if errors.Is(err, core.ErrInvalidPage) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		slog.Error("listImagesHandler: failed to list images",
			"status", http.StatusInternalServerError, "error", err)
		return ctx.String(http.StatusInternalServerError, "Failed to list images")
	}
	return ctx.JSON(http.StatusOK, page)
}

func (service *APIService) rawImageHandler(ctx echo.Context) error {
	filename := ctx.Param("filename")
	reader, size, err := service.coreService.Images().GetImage(ctx.Request().Context(), filename)
	if err != nil {
		slog.Warn("rawImageHandler: image not available",
			"status", http.StatusBadRequest, "image", filename, "error", err)
		return ctx.String(http.StatusBadRequest, fmt.Sprintf("Couldn't find %s => %v", filename, err))
	}
	defer func() {
		if cerr := reader.Close(); cerr != nil {
			slog.Error("rawImageHandler: failed to close image reader", "error", cerr, "image", filename)
		}
	}()

	ctx.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(size, 10))
	return ctx.Stream(http.StatusOK, mimeJPEG, reader)
}

func (service *APIService) createImageHandler(ctx echo.Context) error {
	file, err := ctx.FormFile(uploadFieldName)
	if err != nil {
		slog.Warn("createImageHandler: failed to get uploaded file",
			"status", http.StatusBadRequest, "error", err)
		return ctx.String(http.StatusBadRequest, fmt.Sprintf("Missing multipart field %q", uploadFieldName))
	}

	src, err := file.Open()
	if err != nil {
		slog.Error("createImageHandler: failed to open uploaded file",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, fmt.Sprintf("Failed to upload %s => %v", file.Filename, err))
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			slog.Error("createImageHandler: failed to close uploaded file reader", "error", cerr, "filename", file.Filename)
		}
	}()

	owner := requesterFrom(ctx).Username
	created, err := service.coreService.Images().CreateImage(ctx.Request().Context(),
		core.Upload{Filename: file.Filename, Content: src}, owner)
	switch {
	case errors.Is(err, core.ErrInvalidName):
		slog.Warn("createImageHandler: rejected filename",
			"status", http.StatusBadRequest, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusBadRequest, fmt.Sprintf("Failed to upload %s => %v", file.Filename, err))
	case err != nil:
		slog.Error("createImageHandler: failed to store uploaded image",
			"status", http.StatusInternalServerError, "error", err, "filename", file.Filename)
		return ctx.String(http.StatusInternalServerError, fmt.Sprintf("Failed to upload %s => %v", file.Filename, err))
	case !created && fromPage(ctx):
		return pageResponse(ctx, "Nothing to upload")
	case !created:
		return ctx.NoContent(http.StatusNoContent)
	case fromPage(ctx):
		return pageResponse(ctx, "Successfully uploaded "+file.Filename)
	}

	ctx.Response().Header().Set(echo.HeaderLocation, BasePath+"/"+url.PathEscape(file.Filename)+"/raw")
	return ctx.JSON(http.StatusCreated, map[string]string{
		"name":  file.Filename,
		"owner": owner,
	})
}

func (service *APIService) deleteImageHandler(ctx echo.Context) error {
	filename := ctx.Param("filename")
	requester := requesterFrom(ctx)

	err := service.coreService.Images().DeleteImage(ctx.Request().Context(), filename, requester)
	switch {
	case err == nil && fromPage(ctx):
		return pageResponse(ctx, "Successfully deleted "+filename)
	case err == nil:
		return ctx.NoContent(http.StatusNoContent)
	case errors.Is(err, core.ErrNotFound):
		return ctx.String(http.StatusNotFound, fmt.Sprintf("Failed to delete %s => %v", filename, err))
	case errors.Is(err, core.ErrForbidden):
		slog.Warn("deleteImageHandler: forbidden",
			"status", http.StatusForbidden, "image", filename, "username", requester.Username)
		return ctx.String(http.StatusForbidden, fmt.Sprintf("Failed to delete %s => %v", filename, err))
	default:
		slog.Error("deleteImageHandler: failed to delete image",
			"status", http.StatusInternalServerError, "image", filename, "error", err)
		return ctx.String(http.StatusInternalServerError, fmt.Sprintf("Failed to delete %s => %v", filename, err))
	}
}

// fromPage reports whether the request came from the gallery page rather than an API client.
func fromPage(ctx echo.Context) bool {
	req := ctx.Request()
	return req.Header.Get(headerHXRequest) == "true" ||
		strings.Contains(req.Header.Get(echo.HeaderAccept), echo.MIMETextHTML)
}

// pageResponse tells htmx to refresh the image list, and sends plain form posts back
// to the gallery.
func pageResponse(ctx echo.Context, message string) error {
	if ctx.Request().Header.Get(headerHXRequest) == "true" {
		ctx.Response().Header().Set(headerHXTrigger, refreshEvent)
		return ctx.String(http.StatusOK, message)
	}
	return ctx.Redirect(http.StatusSeeOther, "/")
}
