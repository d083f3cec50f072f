package common

import (
	"fmt"
	"net/http"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"
)

type GenericEchoValidator struct {
	Validator *validator.Validate
}

func (gv *GenericEchoValidator) Validate(i interface{}) error {
	if gv.Validator == nil {
		gv.Validator = validator.New()
	}
	if err := gv.Validator.Struct(i); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	return nil
}

// BindQuery fills the int query parameters named in fields into dest and validates the
// surrounding struct. Absent parameters leave the preset values untouched.
func BindQuery(ctx echo.Context, request any, fields map[string]*int) error {
	binder := echo.QueryParamsBinder(ctx)
	for name, dest := range fields {
		binder = binder.Int(name, dest)
	}
	if err := binder.BindError(); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("received invalid request: %v", err))
	}
	return ctx.Validate(request)
}
