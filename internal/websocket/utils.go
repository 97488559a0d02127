package websocket

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait = 10 * time.Second
	// ReadWait bounds how long a proctor connection may stay silent.
	ReadWait = 5 * time.Minute
	// maxRequestSize caps a single client message; requests are one action.
	maxRequestSize = 1024
)

// WriteTyped sends a strongly-typed response payload as one text frame.
func WriteTyped(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// WriteError sends a typed ErrorResponse over the WebSocket.
func WriteError(conn *websocket.Conn, errMsg string) error {
	return WriteTyped(conn, ErrorResponse{
		Event: EventError,
		Error: errMsg,
	})
}

// CloseWithError reports errMsg and then closes the feed with an
// internal-error close frame. The caller still owns conn.Close.
func CloseWithError(conn *websocket.Conn, errMsg string) {
	if err := WriteError(conn, errMsg); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseInternalServerErr, errMsg)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// ReadJSON reads and decodes one client request, refreshing the read deadline.
func ReadJSON(conn *websocket.Conn, v interface{}) error {
	conn.SetReadLimit(maxRequestSize)
	conn.SetReadDeadline(time.Now().Add(ReadWait))
	return conn.ReadJSON(v)
}
