package ws

import "room-chat/internal/session"

const (
	frameSend       = "send"
	frameLeave      = "leave"
	frameDeleteRoom = "delete_room"
	frameRename     = "rename"

	frameSnapshot = "snapshot"
	frameDeleted  = "deleted"
	frameEnded    = "ended"
	frameError    = "error"
)

type clientFrame struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
}

type serverFrame struct {
	Type     string        `json:"type"`
	View     *session.View `json:"view,omitempty"`
	Redirect string        `json:"redirect,omitempty"`
	Error    string        `json:"error,omitempty"`
}

func snapshotFrame(v session.View) serverFrame {
	return serverFrame{Type: frameSnapshot, View: &v}
}

func errorFrame(msg string) serverFrame {
	return serverFrame{Type: frameError, Error: msg}
}
