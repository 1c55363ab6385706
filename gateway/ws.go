package gateway

import (
	"context"
	"net/http"

	"github.com/julienschmidt/httprouter"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"codexgate/session"
)

// wsEvent mirrors session.Event as a WebSocket message.
type wsEvent struct {
	Event string `json:"event"`
	Data  string `json:"data"`
}

// execWS runs one session and relays its events over a WebSocket
// connection. The first client message is the execution request; the
// server then sends one message per event and closes normally after the
// terminal event.
func (g *Gateway) execWS(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		g.logger.Debugf("error accepting WebSocket conn: %s", err)
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	g.logger.Debug("accepted WebSocket conn")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var req session.Request
	if err := wsjson.Read(ctx, wsConn, &req); err != nil {
		g.logger.Debugf("error reading exec request: %s", err)
		wsConn.Close(websocket.StatusInternalError, "reading exec request")
		return
	}
	if req.Prompt == "" {
		wsConn.Close(websocket.StatusPolicyViolation, "request contained no prompt")
		return
	}

	for ev := range g.runner.Run(ctx, req) {
		if err := wsjson.Write(ctx, wsConn, wsEvent{Event: string(ev.Name), Data: ev.Data}); err != nil {
			g.logger.Debugf("error writing event: %s", err)
			return
		}
	}
	wsConn.Close(websocket.StatusNormalClosure, "")
}
