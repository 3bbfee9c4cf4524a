package controller

import (
	"errors"
	"net/http"

	httpdto "github.com/vibast-solutions/ms-go-greeting/app/dto"
	"github.com/vibast-solutions/ms-go-greeting/app/service"
	"github.com/vibast-solutions/ms-go-greeting/app/types"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
)

type GreetingController struct {
	greetingService *service.GreetingService
	logger          logrus.FieldLogger
}

func NewGreetingController(greetingService *service.GreetingService, logger logrus.FieldLogger) *GreetingController {
	return &GreetingController{greetingService: greetingService, logger: logger}
}

func (c *GreetingController) Hello(ctx echo.Context) error {
	req, err := types.NewHelloRequestFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid query parameters"})
	}
	if err = req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	return ctx.JSON(http.StatusOK, &types.HelloResponse{
		Message: c.greetingService.Hello(req.FirstName, req.LastName),
	})
}

func (c *GreetingController) List(ctx echo.Context) error {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	greetings, err := c.greetingService.List(ctx.Request().Context(), userID)
	if err != nil {
		c.logger.WithError(err).WithField("user_id", userID).Error("List greetings failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, types.NewGreetingListResponse(greetings))
}

func (c *GreetingController) Get(ctx echo.Context) error {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}
	id, err := types.GreetingIDFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	greeting, err := c.greetingService.Get(ctx.Request().Context(), id, userID)
	if err != nil {
		return c.writeError(ctx, err, userID, "Get greeting failed")
	}

	return ctx.JSON(http.StatusOK, types.NewGreetingResponse(greeting))
}

func (c *GreetingController) Create(ctx echo.Context) error {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}

	req, err := types.NewCreateGreetingRequestFromContext(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Failed to bind create greeting request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}
	if err = req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	greeting, err := c.greetingService.Create(ctx.Request().Context(), userID, req)
	if err != nil {
		return c.writeError(ctx, err, userID, "Create greeting failed")
	}

	return ctx.JSON(http.StatusCreated, types.NewGreetingResponse(greeting))
}

func (c *GreetingController) Update(ctx echo.Context) error {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}
	id, err := types.GreetingIDFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	req, err := types.NewUpdateGreetingRequestFromContext(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Failed to bind update greeting request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}
	if err = req.Validate(); err != nil {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	greeting, err := c.greetingService.Update(ctx.Request().Context(), id, userID, req)
	if err != nil {
		return c.writeError(ctx, err, userID, "Update greeting failed")
	}

	return ctx.JSON(http.StatusOK, types.NewGreetingResponse(greeting))
}

func (c *GreetingController) Delete(ctx echo.Context) error {
	userID, ok := userIDFromContext(ctx)
	if !ok {
		return c.unauthorized(ctx)
	}
	id, err := types.GreetingIDFromContext(ctx)
	if err != nil {
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	greeting, err := c.greetingService.Delete(ctx.Request().Context(), id, userID)
	if err != nil {
		return c.writeError(ctx, err, userID, "Delete greeting failed")
	}

	return ctx.JSON(http.StatusOK, types.NewGreetingResponse(greeting))
}

func (c *GreetingController) writeError(ctx echo.Context, err error, userID uint64, msg string) error {
	switch {
	case errors.Is(err, service.ErrGreetingNotFound):
		return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "greeting not found"})
	case errors.Is(err, service.ErrUserNotFound):
		return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "user not found"})
	case errors.Is(err, service.ErrInvalidArgument):
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	c.logger.WithError(err).WithField("user_id", userID).Error(msg)
	return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
}

func (c *GreetingController) unauthorized(ctx echo.Context) error {
	c.logger.Warn("Missing user_id in context")
	return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "unauthorized"})
}

func userIDFromContext(ctx echo.Context) (uint64, bool) {
	userID, ok := ctx.Get("user_id").(uint64)
	return userID, ok && userID > 0
}
