package server

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/gin-gonic/gin"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// GlobalUpdatesHandler subscribes the connection to every job update
func (s *Server) GlobalUpdatesHandler(c *gin.Context) {
	s.subscribe(c, "")
}

// ProjectUpdatesHandler subscribes the connection to one project's updates
func (s *Server) ProjectUpdatesHandler(c *gin.Context) {
	s.subscribe(c, c.Param("project"))
}

func (s *Server) subscribe(c *gin.Context, project string) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	s.hub.Subscribe(conn, project)
}
