package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type wsSession struct {
	conn *websocket.Conn
	wm   sync.Mutex
	once sync.Once
}

func dialWebsocket(ctx context.Context, endpoint string, header http.Header, jar http.CookieJar) (*wsSession, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
		Jar:              jar,
	}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return &wsSession{conn: conn}, nil
}

func (w *wsSession) name() string { return TransportWebsocket }

func (w *wsSession) read() (Frame, error) {
	_, data, err := w.conn.ReadMessage()
	if err != nil {
		return Frame{}, err
	}
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", errMalformedFrame, err)
	}
	return f, nil
}

func (w *wsSession) write(f Frame) error {
	w.wm.Lock()
	defer w.wm.Unlock()
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return w.conn.WriteJSON(f)
}

func (w *wsSession) close() error {
	var err error
	w.once.Do(func() {
		w.wm.Lock()
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.wm.Unlock()
		err = w.conn.Close()
	})
	return err
}
