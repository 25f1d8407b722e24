package ripple

import (
	"context"
	"fmt"
)

// Handler receives the events of every connection. Calls for one connection
// never overlap and must not block for long.
type Handler interface {
	OnOpen(ws *Websocket)
	OnMessage(ctx context.Context, ws *Websocket, msg Message) error
	OnClose(ws *Websocket, reason string)
}

// MessageHandler handles incoming data frames. Returning an error closes the
// connection, with the code of a *CloseError or 1011 otherwise.
type MessageHandler interface {
	OnMessage(ctx context.Context, ws *Websocket, msg Message) error
}

// MessageHandlerFunc is an adapter to allow ordinary functions to be used as message handlers.
type MessageHandlerFunc func(ctx context.Context, ws *Websocket, msg Message) error

// OnMessage calls f(ctx, ws, msg).
func (f MessageHandlerFunc) OnMessage(ctx context.Context, ws *Websocket, msg Message) error {
	return f(ctx, ws, msg)
}

// HandlerFuncs builds a Handler from optional functions.
type HandlerFuncs struct {
	Open    func(ws *Websocket)
	Message func(ctx context.Context, ws *Websocket, msg Message) error
	Close   func(ws *Websocket, reason string)
}

// OnOpen implements Handler.
func (h HandlerFuncs) OnOpen(ws *Websocket) {
	if h.Open != nil {
		h.Open(ws)
	}
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(ctx context.Context, ws *Websocket, msg Message) error {
	if h.Message != nil {
		return h.Message(ctx, ws, msg)
	}
	return nil
}

// OnClose implements Handler.
func (h HandlerFuncs) OnClose(ws *Websocket, reason string) {
	if h.Close != nil {
		h.Close(ws, reason)
	}
}

// Middleware is a function that wraps a MessageHandler with additional functionality.
type Middleware func(MessageHandler) MessageHandler

// Chain combines multiple middlewares into a single middleware.
func Chain(middlewares ...Middleware) Middleware {
	return func(final MessageHandler) MessageHandler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// CloseError asks the server to close the connection with a specific code.
type CloseError struct {
	Code   uint16
	Reason string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("websocket close %d: %s", e.Code, e.Reason)
}
