package main

import (
	"bytes"
	"image"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/therealutkarshpriyadarshi/frameflow/internal/frame"
)

const (
	writeWait      = 5 * time.Second
	previewQuality = 80
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 64 * 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamPreview pushes every rendered frame to the client as a binary JPEG
// message. Slow clients only ever see the latest frame.
func (api *API) streamPreview(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	frames := make(chan *frame.Frame, 1)
	ctrl := api.studio.Controller()
	unsubscribe := ctrl.Subscribe(func(index int, img image.Image) {
		f := &frame.Frame{Index: index, Image: img}
		for {
			select {
			case frames <- f:
				return
			default:
			}
			select {
			case <-frames:
			default:
			}
		}
	})
	defer unsubscribe()

	// Reads only detect the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	client := conn.RemoteAddr().String()
	api.logger.WithField("client", client).Info("Preview client connected")

	if err := ctrl.Redraw(c.Request.Context()); err != nil {
		api.logger.WithError(err).Debug("Nothing to redraw for new preview client")
	}

	for {
		select {
		case <-closed:
			api.logger.WithField("client", client).Info("Preview client disconnected")
			return
		case f := <-frames:
			data, err := api.encodePreview(f.Image)
			if err != nil {
				api.logger.WithError(err).Warn("Failed to encode preview frame")
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				api.logger.WithField("client", client).WithError(err).Info("Preview client write failed")
				return
			}
		}
	}
}

func (api *API) encodePreview(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	preview := frame.Preview(img, api.previewWidth, api.previewHeight)
	if err := frame.EncodeJPEG(&buf, preview, previewQuality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
