package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/duoexplain/pkg/models"
)

const (
	transcriptWSWriteWait = 10 * time.Second
	transcriptWSPongWait  = 60 * time.Second
	transcriptWSPingEvery = (transcriptWSPongWait * 9) / 10
)

var transcriptWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// TranscriptFrame is pushed on connect and after every transcript change
type TranscriptFrame struct {
	Type     string           `json:"type"`
	Messages []models.Message `json:"messages"`
	Busy     bool             `json:"busy"`
}

func (s *Server) transcriptWS(c echo.Context) error {
	conn, err := transcriptWSUpgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return nil
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(transcriptWSPongWait)); err != nil {
		return nil
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(transcriptWSPongWait))
	})

	// inbound frames are ignored; the read loop only notices a closed peer
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	store := s.session.Transcript()
	ticker := time.NewTicker(transcriptWSPingEvery)
	defer ticker.Stop()

	for {
		// subscribe before the snapshot so no change is missed in between
		changed := store.Changed()
		view := s.transcriptView()
		frame := TranscriptFrame{Type: "transcript", Messages: view.Messages, Busy: view.Busy}

		if err := conn.SetWriteDeadline(time.Now().Add(transcriptWSWriteWait)); err != nil {
			return nil
		}
		if err := conn.WriteJSON(frame); err != nil {
			log.Debug().Err(err).Msg("Transcript subscriber went away")
			return nil
		}

		// busy clears without a transcript change once a reveal ends
		var idle <-chan struct{}
		if view.Busy {
			idle = s.session.Idle()
		}

	wait:
		for {
			select {
			case <-ctx.Done():
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(transcriptWSWriteWait))
				return nil
			case <-changed:
				break wait
			case <-idle:
				break wait
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(transcriptWSWriteWait)); err != nil {
					return nil
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return nil
				}
			}
		}
	}
}
