package handlers

import "net/http"

// Routes binds the REST API onto a mux. Auth guards every route except
// register and login; PostLimit additionally guards message posting.
type Routes struct {
	Auth     *AuthHandler
	Channels *ChannelHandler
	Messages *MessageHandler

	RequireAuth func(http.Handler) http.Handler
	PostLimit   func(http.Handler) http.Handler
}

func (rt Routes) Register(mux *http.ServeMux) {
	auth := func(h http.HandlerFunc) http.Handler { return rt.RequireAuth(h) }

	// Public
	mux.HandleFunc("POST /api/v1/auth/register", rt.Auth.Register)
	mux.HandleFunc("POST /api/v1/auth/login", rt.Auth.Login)

	// Protected - Account
	mux.Handle("GET /api/v1/auth/me", auth(rt.Auth.Me))
	mux.Handle("POST /api/v1/auth/logout", auth(rt.Auth.Logout))
	mux.Handle("DELETE /api/v1/auth/me", auth(rt.Auth.DeleteAccount))

	// Protected - Users
	mux.Handle("GET /api/v1/users", auth(rt.Auth.ListUsers))
	mux.Handle("GET /api/v1/users/{id}", auth(rt.Auth.GetUser))

	// Protected - Channels
	mux.Handle("GET /api/v1/channels", auth(rt.Channels.List))
	mux.Handle("POST /api/v1/channels", auth(rt.Channels.Create))
	mux.Handle("GET /api/v1/channels/mine", auth(rt.Channels.Mine))
	mux.Handle("GET /api/v1/channels/{id}", auth(rt.Channels.Get))
	mux.Handle("DELETE /api/v1/channels/{id}", auth(rt.Channels.Delete))
	mux.Handle("POST /api/v1/channels/{id}/join", auth(rt.Channels.Join))
	mux.Handle("POST /api/v1/channels/{id}/leave", auth(rt.Channels.Leave))
	mux.Handle("GET /api/v1/channels/{id}/members", auth(rt.Channels.ListMembers))

	// Protected - Messages
	send := http.Handler(http.HandlerFunc(rt.Messages.Send))
	if rt.PostLimit != nil {
		send = rt.PostLimit(send)
	}
	mux.Handle("POST /api/v1/channels/{id}/messages", rt.RequireAuth(send))
	mux.Handle("GET /api/v1/channels/{id}/messages", auth(rt.Messages.List))
	mux.Handle("DELETE /api/v1/messages/{id}", auth(rt.Messages.Delete))
}
