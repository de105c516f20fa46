package botserver

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/bartossh/Accreditor/logger"
	"github.com/bartossh/Accreditor/notifications"
)

const (
	defaultLogsLimit = 100
	maxLogsLimit     = 1000
)

// HookRequest is the request send to add or remove the admin notification webhook.
type HookRequest struct {
	URL   string `json:"address"` // URL is a url of the webhook.
	Token string `json:"token"`   // Token is added to every posted message, ignored on removal.
}

// HookResponse is the response send back to the webhook creator.
type HookResponse struct {
	Ok  bool   `json:"ok"`
	URL string `json:"address"`
}

// LogsResponse contains the newest logs first.
type LogsResponse struct {
	Logs []logger.Log `json:"logs"`
}

func (s *server) addHook(c *fiber.Ctx) error {
	req, err := parseHookRequest(c)
	if err != nil {
		return err
	}
	s.tools.Hooks.AddHook(notifications.Hook{URL: req.URL, Token: req.Token})
	s.log.Info(fmt.Sprintf("bot server, admin webhook %s added", req.URL))
	return c.JSON(HookResponse{Ok: true, URL: req.URL})
}

func (s *server) removeHook(c *fiber.Ctx) error {
	req, err := parseHookRequest(c)
	if err != nil {
		return err
	}
	s.tools.Hooks.RemoveHook(req.URL)
	s.log.Info(fmt.Sprintf("bot server, admin webhook %s removed", req.URL))
	return c.JSON(HookResponse{Ok: true, URL: req.URL})
}

func parseHookRequest(c *fiber.Ctx) (HookRequest, error) {
	var req HookRequest
	if err := c.BodyParser(&req); err != nil {
		return req, fiber.ErrBadRequest
	}
	if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
		return req, fiber.NewError(fiber.StatusBadRequest, "webhook address must be an http or https url")
	}
	return req, nil
}

func (s *server) logs(c *fiber.Ctx) error {
	service := c.Query("service")
	if service == "" {
		return fiber.NewError(fiber.StatusBadRequest, "service query parameter is required")
	}
	limit := c.QueryInt("limit", defaultLogsLimit)
	if limit <= 0 || limit > maxLogsLimit {
		return fiber.NewError(fiber.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxLogsLimit))
	}

	logs, err := s.tools.Logs.ReadLogs(c.Context(), service, c.Query("level"), int64(limit))
	if err != nil {
		s.log.Error(fmt.Sprintf("bot server, read logs of %s: %s", service, err))
		return fiber.ErrInternalServerError
	}
	return c.JSON(LogsResponse{Logs: logs})
}
