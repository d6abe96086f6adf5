package httpapi

import (
	"net/url"
	"strings"
)

const apiPrefix = "/api/v1/room"

// Collaborator endpoints. Room ids are a single path segment.
func roomsPath() string { return apiPrefix }

func roomPath(roomID string) string { return apiPrefix + "/" + url.PathEscape(roomID) }

func registerPath(roomID string) string { return roomPath(roomID) + "/register" }

func attackPath(roomID string) string { return roomPath(roomID) + "/attack" }

func stayPath(roomID string) string { return roomPath(roomID) + "/stay" }

func wsPath(roomID string) string { return roomPath(roomID) + "/ws" }

// wsScheme maps the REST scheme onto the matching notification scheme.
func wsScheme(scheme string) string {
	switch strings.ToLower(scheme) {
	case "https":
		return "wss"
	case "http":
		return "ws"
	default:
		return scheme
	}
}
