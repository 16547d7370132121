package sse

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"github.com/listenupapp/bookstream/internal/client"
	domainerrors "github.com/listenupapp/bookstream/internal/errors"
	"github.com/listenupapp/bookstream/internal/id"
	"github.com/listenupapp/bookstream/internal/protocol"
)

// StreamPath serves both the event stream (GET) and commands (POST).
const StreamPath = "/api/stream"

// Command messages.
const (
	msgBookIDRequired   = "Book ID is required"
	msgBookDataRequired = "Book data is required"
	msgInvalidAction    = "Invalid action"
	msgUnavailable      = "Backend service unavailable"
)

// CommandBody is a browser command. Answers arrive on the event stream.
type CommandBody struct {
	Action      string       `json:"action,omitempty" doc:"LIST, GET, CREATE, UPDATE or DELETE"`
	BookID      string       `json:"bookId,omitempty" doc:"Target book for GET, UPDATE and DELETE"`
	Book        *CommandBook `json:"book,omitempty" doc:"Book fields for CREATE and UPDATE"`
	SearchQuery string       `json:"searchQuery,omitempty" doc:"Optional LIST filter"`
}

// CommandInput wraps the command body for Huma.
type CommandInput struct {
	Body CommandBody
}

// CommandOutput acknowledges that a command was handed to the stream.
type CommandOutput struct {
	Body struct {
		Success   bool   `json:"success"`
		RequestID string `json:"requestId" doc:"Request id the answer will carry"`
	}
}

// Register mounts the event stream, the command endpoint and the health check.
func Register(router chi.Router, api huma.API, handler *Handler) {
	router.Get(StreamPath, handler.ServeHTTP)
	registerCommands(api, handler)
}

func registerCommands(api huma.API, handler *Handler) {
	huma.Register(api, huma.Operation{
		OperationID: "sendCommand",
		Method:      http.MethodPost,
		Path:        StreamPath,
		Summary:     "Send a book command",
		Description: "Forwards a command onto the book stream. The answer arrives on the event stream.",
		Tags:        []string{"Stream"},
	}, handler.handleCommand)

	huma.Register(api, huma.Operation{
		OperationID: "bridgeHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Bridge health",
		Description: "Reports the stream state and the number of event stream clients",
		Tags:        []string{"Health"},
	}, handler.handleHealth)
}

// HealthOutput reports the bridge state.
type HealthOutput struct {
	Body struct {
		Status  string `json:"status" doc:"healthy, or degraded while the stream is reconnecting"`
		Stream  string `json:"stream" doc:"Connection state of the upstream stream"`
		Clients int    `json:"clients" doc:"Connected event stream clients"`
	}
}

func (h *Handler) handleHealth(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	state := h.manager.stream.State()

	out := &HealthOutput{}
	out.Body.Status = "healthy"
	if state == client.StateReconnecting {
		out.Body.Status = "degraded"
	}
	out.Body.Stream = state.String()
	out.Body.Clients = h.manager.ClientCount()
	return out, nil
}

func (h *Handler) handleCommand(_ context.Context, input *CommandInput) (*CommandOutput, error) {
	req, err := toRequest(input.Body)
	if err != nil {
		return nil, err
	}

	// A reconnecting stream queues the request and sends it once ready.
	if err := h.manager.stream.Send(req); err != nil {
		h.logger.Warn("command not queued", "action", req.Action.String(), "error", err)
		if domainerrors.CodeOf(err) == domainerrors.CodeUnavailable {
			return nil, huma.Error503ServiceUnavailable(msgUnavailable)
		}
		return nil, huma.Error500InternalServerError("Internal server error")
	}

	out := &CommandOutput{}
	out.Body.Success = true
	out.Body.RequestID = req.RequestID
	return out, nil
}

// toRequest validates the shape of a command. Field validation is left to
// the server.
func toRequest(body CommandBody) (protocol.Request, error) {
	action := protocol.ParseAction(strings.ToUpper(body.Action))
	req := protocol.Request{
		Action:    action,
		RequestID: id.Request(action.String()),
	}

	switch action {
	case protocol.ActionList:
		req.SearchQuery = body.SearchQuery
	case protocol.ActionGet, protocol.ActionDelete:
		if body.BookID == "" {
			return req, huma.Error400BadRequest(msgBookIDRequired)
		}
		req.BookID = body.BookID
	case protocol.ActionCreate:
		if body.Book == nil {
			return req, huma.Error400BadRequest(msgBookDataRequired)
		}
		req.Book = body.Book.Input()
	case protocol.ActionUpdate:
		if body.BookID == "" {
			return req, huma.Error400BadRequest(msgBookIDRequired)
		}
		if body.Book == nil {
			return req, huma.Error400BadRequest(msgBookDataRequired)
		}
		req.BookID = body.BookID
		req.Book = body.Book.Input()
	case protocol.ActionUnknown, protocol.ActionSubscribe:
		// The bridge subscribes on its own.
		fallthrough
	default:
		return req, huma.Error400BadRequest(msgInvalidAction)
	}
	return req, nil
}
