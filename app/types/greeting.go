package types

import (
	"errors"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/vibast-solutions/ms-go-greeting/app/entity"

	"github.com/labstack/echo/v4"
)

// Limits mirror the column widths, counted in characters.
const (
	maxNameLength    = 100
	maxMessageLength = 512
)

type HelloRequest struct {
	FirstName string `query:"first_name"`
	LastName  string `query:"last_name"`
}

type HelloResponse struct {
	Message string `json:"message"`
}

type CreateGreetingRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Message   string `json:"message"`
}

// UpdateGreetingRequest leaves a field untouched when it is nil.
type UpdateGreetingRequest struct {
	FirstName *string `json:"first_name"`
	LastName  *string `json:"last_name"`
	Message   *string `json:"message"`
}

type GreetingResponse struct {
	ID        uint64    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type GreetingListResponse struct {
	Greetings []GreetingResponse `json:"greetings"`
}

func NewGreetingResponse(g *entity.Greeting) *GreetingResponse {
	return &GreetingResponse{
		ID:        g.ID,
		FirstName: g.FirstName,
		LastName:  g.LastName,
		Message:   g.Message,
		CreatedAt: g.CreatedAt,
		UpdatedAt: g.UpdatedAt,
	}
}

func NewGreetingListResponse(greetings []entity.Greeting) *GreetingListResponse {
	items := make([]GreetingResponse, 0, len(greetings))
	for i := range greetings {
		items = append(items, *NewGreetingResponse(&greetings[i]))
	}
	return &GreetingListResponse{Greetings: items}
}

func NewHelloRequestFromContext(ctx echo.Context) (*HelloRequest, error) {
	var query HelloRequest
	if err := (&echo.DefaultBinder{}).BindQueryParams(ctx, &query); err != nil {
		return nil, err
	}

	return &query, nil
}

func (r *HelloRequest) Validate() error {
	return validateNames(r.FirstName, r.LastName)
}

func NewCreateGreetingRequestFromContext(ctx echo.Context) (*CreateGreetingRequest, error) {
	var body CreateGreetingRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *CreateGreetingRequest) Validate() error {
	if err := validateNames(r.FirstName, r.LastName); err != nil {
		return err
	}
	return validateMessage(r.Message)
}

func NewUpdateGreetingRequestFromContext(ctx echo.Context) (*UpdateGreetingRequest, error) {
	var body UpdateGreetingRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	return &body, nil
}

func (r *UpdateGreetingRequest) Validate() error {
	if r.FirstName == nil && r.LastName == nil && r.Message == nil {
		return errors.New("at least one of first_name, last_name or message is required")
	}

	var first, last string
	if r.FirstName != nil {
		first = *r.FirstName
	}
	if r.LastName != nil {
		last = *r.LastName
	}
	if err := validateNames(first, last); err != nil {
		return err
	}
	if r.Message != nil {
		return validateMessage(*r.Message)
	}
	return nil
}

// GreetingIDFromContext reads the :id path parameter.
func GreetingIDFromContext(ctx echo.Context) (uint64, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, errors.New("id must be a positive integer")
	}

	return id, nil
}

func validateNames(first, last string) error {
	if utf8.RuneCountInString(first) > maxNameLength || utf8.RuneCountInString(last) > maxNameLength {
		return errors.New("first_name and last_name must be at most 100 characters")
	}

	return nil
}

func validateMessage(message string) error {
	if utf8.RuneCountInString(message) > maxMessageLength {
		return errors.New("message must be at most 512 characters")
	}

	return nil
}
