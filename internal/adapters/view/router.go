// Package view is the call surface: pure rendering over agent state
// plus user intents. It holds no authoritative state of its own.
package view

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crms-dev/oathcall/internal/app"
	"github.com/crms-dev/oathcall/internal/app/reconcile"
)

// Session is what the surface renders and drives.
type Session interface {
	Snapshot() app.Snapshot
	ToggleMicrophone() bool
	ToggleCamera() bool
	RequestOath(ctx context.Context) error
	Join(ctx context.Context) error
	End(ctx context.Context) error
}

func SetupRouter(mode string, sess Session) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	api := r.Group("/api")
	api.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, sess.Snapshot())
	})
	api.POST("/controls/:action", controlHandler(sess))
	api.GET("/ws/events", eventsHandler(sess))

	return r
}

func controlHandler(sess Session) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Param("action") {
		case "microphone":
			c.JSON(http.StatusOK, gin.H{"micEnabled": sess.ToggleMicrophone()})
		case "camera":
			c.JSON(http.StatusOK, gin.H{"cameraEnabled": sess.ToggleCamera()})
		case "request":
			intent(c, sess, sess.RequestOath)
		case "join":
			intent(c, sess, sess.Join)
		case "leave":
			intent(c, sess, sess.End)
		default:
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown action"})
		}
	}
}

// intent runs a backend-mutating action. These failures are the only
// user-visible errors in the call flow; everything else is recovered
// locally.
func intent(c *gin.Context, sess Session, fn func(context.Context) error) {
	if err := fn(c.Request.Context()); err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, reconcile.ErrNoEligibleRecord) ||
			errors.Is(err, reconcile.ErrNoRoom) ||
			errors.Is(err, reconcile.ErrNotJoined) {
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, sess.Snapshot())
}
