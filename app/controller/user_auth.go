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

type UserAuthController struct {
	userAuthService service.UserAuthService
	logger          logrus.FieldLogger
}

func NewUserAuthController(userAuthService service.UserAuthService, logger logrus.FieldLogger) *UserAuthController {
	return &UserAuthController{userAuthService: userAuthService, logger: logger}
}

func (c *UserAuthController) Register(ctx echo.Context) error {
	req, err := types.NewRegisterRequestFromContext(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Failed to bind register request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		c.logger.WithField("email", req.Email).Debug("Register validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	c.logger.WithField("email", req.Email).Info("Register request received")
	result, err := c.userAuthService.Register(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrUserExists) {
			c.logger.WithField("email", req.Email).Warn("Register failed: user already exists")
			return ctx.JSON(http.StatusConflict, httpdto.ErrorResponse{Error: "user already exists"})
		}
		if errors.Is(err, service.ErrInvalidArgument) {
			c.logger.WithField("email", req.Email).Warn("Register failed: invalid argument")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		c.logger.WithError(err).WithField("email", req.Email).Error("Register failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusCreated, result)
}

func (c *UserAuthController) Login(ctx echo.Context) error {
	req, err := types.NewLoginRequestFromContext(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Failed to bind login request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		c.logger.WithField("email", req.Email).Debug("Login validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	result, err := c.userAuthService.Login(ctx.Request().Context(), req)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			c.logger.WithField("email", req.Email).Warn("Login failed: invalid credentials")
			return ctx.JSON(http.StatusUnauthorized, httpdto.ErrorResponse{Error: "invalid credentials"})
		}
		if errors.Is(err, service.ErrInvalidArgument) {
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		c.logger.WithError(err).WithField("email", req.Email).Error("Login failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	c.logger.WithField("email", req.Email).Info("Login successful")
	return ctx.JSON(http.StatusOK, result)
}

func (c *UserAuthController) ForgotPassword(ctx echo.Context) error {
	req, err := types.NewForgotPasswordRequestFromContext(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Failed to bind forgot password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		c.logger.Debug("Forgot password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	c.logger.WithField("email", req.Email).Info("Forgot password request received")
	if err = c.userAuthService.ForgotPassword(ctx.Request().Context(), req); err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			c.logger.WithField("email", req.Email).Warn("Forgot password failed: user not found")
			return ctx.JSON(http.StatusNotFound, httpdto.ErrorResponse{Error: "user not found"})
		}
		if errors.Is(err, service.ErrDeliveryFailed) {
			c.logger.WithError(err).WithField("email", req.Email).Error("Forgot password failed: mail delivery")
			return ctx.JSON(http.StatusBadGateway, httpdto.ErrorResponse{Error: "could not deliver reset email"})
		}
		if errors.Is(err, service.ErrInvalidArgument) {
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		c.logger.WithError(err).WithField("email", req.Email).Error("Forgot password failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "password reset email sent"})
}

func (c *UserAuthController) ResetPassword(ctx echo.Context) error {
	req, err := types.NewResetPasswordRequestFromContext(ctx)
	if err != nil {
		c.logger.WithError(err).Debug("Failed to bind reset password request")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid request body"})
	}

	if err = req.Validate(); err != nil {
		c.logger.Debug("Reset password validation failed")
		return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
	}

	if err = c.userAuthService.ResetPassword(ctx.Request().Context(), req); err != nil {
		if errors.Is(err, service.ErrInvalidToken) {
			c.logger.WithError(err).Warn("Reset password failed: invalid token")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "invalid or expired token"})
		}
		if errors.Is(err, service.ErrInvalidArgument) {
			c.logger.Warn("Reset password failed: invalid argument")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: err.Error()})
		}
		if errors.Is(err, service.ErrUpdateFailed) {
			c.logger.Warn("Reset password failed: account no longer exists")
			return ctx.JSON(http.StatusBadRequest, httpdto.ErrorResponse{Error: "password could not be updated"})
		}
		c.logger.WithError(err).Error("Reset password failed")
		return ctx.JSON(http.StatusInternalServerError, httpdto.ErrorResponse{Error: "internal server error"})
	}

	c.logger.Info("Password reset successful")
	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "password reset successfully"})
}
