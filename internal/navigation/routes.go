// Package navigation names the screens a client is sent to.
package navigation

const (
	Login  = "/login"
	SignUp = "/signup"
	Home   = "/"
	Join   = "/join"
)

// Room is the route of a room screen.
func Room(roomID string) string {
	return "/" + roomID
}
