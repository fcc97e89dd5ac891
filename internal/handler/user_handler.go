/*
Package handler provides HTTP handler functions for inspecting the relay server.
*/
package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"relaychat/internal/app/user"
	"relaychat/internal/pkg/errs"
	"relaychat/internal/pkg/logx"
	"relaychat/internal/pkg/resp"
)

// publicUser masks the receiver IP the same way connection logs do.
func publicUser(u user.User) user.User {
	if u.Address.IP != "" {
		u.Address.IP = logx.AnonymizeIP(u.Address.IP)
	}
	return u
}

func publicUsers(users []user.User) []user.User {
	for i := range users {
		users[i] = publicUser(users[i])
	}
	return users
}

// HandleListUsers returns every registered user with presence and receiver address.
func HandleListUsers(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, publicUsers(deps.Server.Registry().Users()))
	}
}

// HandleGetUser returns one registered user by ID.
func HandleGetUser(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondError(w, r, http.StatusBadRequest, errs.NewError(errs.ErrInvalidParams))
			return
		}

		u, ok := deps.Server.Registry().Lookup(id)
		if !ok {
			resp.RespondError(w, r, http.StatusNotFound, errs.NewError(errs.ErrUserNotFound))
			return
		}

		resp.RespondSuccess(w, r, publicUser(u))
	}
}

// HandleStats returns the server counters.
func HandleStats(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp.RespondSuccess(w, r, deps.Server.Stats())
	}
}
