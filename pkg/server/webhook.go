package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/go-github/v45/github"

	"github.com/your-org/repo-governor/pkg/models"
)

// handleWebhook receives GitHub push and repository events and triggers
// a targeted rescan of the affected workload. The scan runs in the
// background; the webhook acks as soon as the event is accepted so
// GitHub's delivery timeout is never at risk.
func (s *Server) handleWebhook(c *gin.Context) {
	payload, err := github.ValidatePayload(c.Request, s.webhookSecret)
	if err != nil {
		s.logger.Warnw("webhook signature rejected", "error", err)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook signature"})
		return
	}

	event, err := github.ParseWebHook(github.WebHookType(c.Request), payload)
	if err != nil {
		s.logger.Warnw("webhook payload unparseable", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook payload"})
		return
	}

	var fullName string
	switch e := event.(type) {
	case *github.PushEvent:
		fullName = e.GetRepo().GetFullName()
	case *github.RepositoryEvent:
		fullName = e.GetRepo().GetFullName()
	case *github.PingEvent:
		c.JSON(http.StatusOK, gin.H{"status": "pong"})
		return
	default:
		// Events we are not subscribed to are acked, not errored, so
		// GitHub does not mark the hook unhealthy.
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
		return
	}

	workload, ok := s.registry.LookupByRepo(fullName)
	if !ok {
		s.logger.Debugw("webhook for unregistered repository", "repository", fullName)
		c.JSON(http.StatusAccepted, gin.H{"status": "unregistered repository"})
		return
	}

	go s.backgroundScan(workload)

	c.JSON(http.StatusAccepted, gin.H{
		"status":   "scan scheduled",
		"workload": workload.Name,
	})
}

func (s *Server) backgroundScan(workload models.Workload) {
	ctx, cancel := context.WithTimeout(context.Background(), scanTimeout)
	defer cancel()

	if _, err := s.orch.ScanOne(ctx, workload); err != nil {
		s.logger.Errorw("webhook-triggered scan failed",
			"workload", workload.Name,
			"error", err)
	}
}
