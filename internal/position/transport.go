package position

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"nhooyr.io/websocket"
)

// Transport upgrades an authenticated request to the long-lived text
// connection and drives a Session off it, one line per client message.
// There is no fan-out broadcast here: every connection is answered only
// for its own queries, since position sync is request/response over a
// shared store rather than a push channel.
type Transport struct {
	hub *Hub
}

func NewTransport(hub *Hub) *Transport {
	return &Transport{hub: hub}
}

// ServeHTTP accepts the websocket upgrade and runs the read loop until the
// client disconnects or sends a line that does not parse; such a line gets
// an error reply and the connection is then closed.
func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[position] accept: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	// The wire grammar carries no group on a bare "?"/empty generic query,
	// so a connection's group identity is established once here, at the
	// upgrade, from the "group" query parameter: a fresh connection that
	// queries before ever sending a long update still answers for its own
	// group.
	sess := NewSession(t.hub, r.URL.Query().Get("group"))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		msg, perr := Parse(string(data))
		if perr != nil {
			_ = writeLine(ctx, conn, errorLine(perr))
			return
		}

		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		resp, herr := sess.Handle(writeCtx, msg)
		cancel()
		if herr != nil {
			if err := writeLine(ctx, conn, errorLine(herr)); err != nil {
				return
			}
			continue
		}
		if resp == nil {
			continue // updates get no reply
		}

		body, err := json.Marshal(resp)
		if err != nil {
			continue
		}
		if err := writeLine(ctx, conn, string(body)); err != nil {
			return
		}
	}
}

func writeLine(ctx context.Context, conn *websocket.Conn, line string) error {
	return conn.Write(ctx, websocket.MessageText, []byte(line))
}

func errorLine(err error) string {
	body, _ := json.Marshal(struct {
		Error string `json:"error"`
	}{Error: err.Error()})
	return string(body)
}
