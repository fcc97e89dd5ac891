/*
Package handler provides the HTTP handlers and routing setup for the admin API of the relay server.

This file defines AppDeps, the dependencies shared by every handler.
*/
package handler

import (
	"relaychat/internal/app/chat"
	"relaychat/internal/configs"
)

// AppDeps holds what the admin handlers read from.
type AppDeps struct {
	Server *chat.Server
	Config *configs.AppConfig
}
