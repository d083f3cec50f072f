package frontend

import (
	"html/template"
	"log/slog"
	"net/http"

	"github.com/jo-hoe/imagestore/internal/backend/database"
	"github.com/jo-hoe/imagestore/internal/common"
	"github.com/jo-hoe/imagestore/internal/core"
	"github.com/labstack/echo/v4"
)

const (
	MainPageName     = "index.html"
	imageListPartial = "image-list"
)

type FrontendService struct {
	coreService *core.CoreService
	config      *core.ServiceConfig
}

type galleryRequest struct {
	Page int `validate:"min=0"`
	Size int `validate:"min=1,max=1000"`
}

// gallery is the view model of index.html and the image-list partial.
type gallery struct {
	Images      []*database.Image
	Page        int
	Size        int
	HasPrevious bool
	HasNext     bool
	Previous    int
	Next        int
}

func NewFrontendService(config *core.ServiceConfig, coreService *core.CoreService) *FrontendService {
	return &FrontendService{
		coreService: coreService,
		config:      config,
	}
}

// rootRedirectHandler redirects root path to index.html, keeping the paging query
func (service *FrontendService) rootRedirectHandler(ctx echo.Context) error {
	target := "/" + MainPageName
	if query := ctx.QueryString(); query != "" {
		target += "?" + query
	}
	return ctx.Redirect(http.StatusMovedPermanently, target)
}

func (service *FrontendService) SetRoutes(e *echo.Echo) {
	e.Renderer = &Template{
		templates: template.Must(template.New("").ParseFS(templateFS, viewsPattern)),
	}

	e.GET("/", service.rootRedirectHandler)
	e.GET("/"+MainPageName, service.indexHandler)
	e.GET("/htmx/images", service.htmxListImagesHandler)
}

func (service *FrontendService) indexHandler(ctx echo.Context) error {
	view, err := service.loadGallery(ctx)
	if err != nil {
		return err
	}
	return ctx.Render(http.StatusOK, MainPageName, view)
}

func (service *FrontendService) htmxListImagesHandler(ctx echo.Context) error {
	view, err := service.loadGallery(ctx)
	if err != nil {
		return err
	}

	// Prevent caching so the latest images are always shown
	service.setNoCache(ctx)

	return ctx.Render(http.StatusOK, imageListPartial, view)
}

func (service *FrontendService) loadGallery(ctx echo.Context) (*gallery, error) {
	request := galleryRequest{Size: service.config.DefaultPageSize}
	if err := common.BindQuery(ctx, &request, map[string]*int{
		"page": &request.Page,
		"size": &request.Size,
	}); err != nil {
		return nil, err
	}

	page, err := service.coreService.Images().ListImages(ctx.Request().Context(), request.Page, request.Size)
	if err != nil {
		slog.Error("loadGallery: failed to list images",
			"status", http.StatusInternalServerError, "error", err)
		return nil, echo.NewHTTPError(http.StatusInternalServerError, "Failed to list images")
	}

	view := &gallery{
		Images:      page.Images,
		Page:        page.Page,
		Size:        page.Size,
		HasPrevious: page.HasPrevious,
		HasNext:     page.HasNext,
		Next:        page.Page + 1,
	}
	if page.HasPrevious {
		view.Previous = page.Page - 1
	}
	return view, nil
}

func (service *FrontendService) setNoCache(ctx echo.Context) {
	ctx.Response().Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	ctx.Response().Header().Set("Pragma", "no-cache")
	ctx.Response().Header().Set("Expires", "0")
}
