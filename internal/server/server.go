package server

import (
	"fmt"
	"net/http"
	"time"

	"crucible/internal/broadcast"
	"crucible/internal/config"
	"crucible/internal/controller"
)

// Server holds the handler dependencies
type Server struct {
	jc     controller.JobController
	hub    *broadcast.Hub
	config config.Config
}

// New builds the HTTP server around the job controller and broadcaster
func New(config config.Config, jc controller.JobController, hub *broadcast.Hub) *http.Server {
	server := Server{
		jc:     jc,
		hub:    hub,
		config: config,
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%v", config.Port),
		Handler:      server.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}
