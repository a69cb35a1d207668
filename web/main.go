package main

import (
	"encoding/base64"
	"log"
	"os"

	"fieldserve.com/fieldserve/core"
	"fieldserve.com/fieldserve/infrastructure/communication"
	"fieldserve.com/fieldserve/web/handlers"
	"fieldserve.com/fieldserve/web/middlewares"
	"github.com/gin-gonic/gin"
)

func main() {
	r := gin.Default()

	dsn := os.Getenv("DSN")
	dm, err := core.New(dsn, 10)
	if err != nil {
		log.Fatal(err)
	}
	defer dm.Close()

	base64Secret := os.Getenv("FIELDSERVE_SIGNING_SECRET")
	jwtSecret, err := base64.StdEncoding.DecodeString(base64Secret)
	if err != nil {
		log.Fatal("Failed to decode JWT secret:", err)
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "pong",
		})
	})

	var notifier handlers.Notifier
	if os.Getenv("SLACK_BOT_TOKEN") != "" {
		notifier = communication.ConnectSlack()
	}

	protected := r.Group("/")
	protected.Use(middlewares.Authentication(jwtSecret))
	{
		handlers.Register(protected, dm, notifier)
	}

	r.Run("0.0.0.0:8080")
}
