package orchestrator

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/council-run/council-core/pkg/logger"
)

var notifyClient = &http.Client{Timeout: 10 * time.Second}

// notifyExternal POSTs an escalation notification to url. Called via
// safego.Go from executeAction, so any error here is logged and
// swallowed — escalation delivery failures never block the orchestrator's
// tick loop or surface back through CastVote/PostMessage.
func notifyExternal(url, sessionID, ruleName, message string) {
	if url == "" {
		return
	}
	body, err := json.Marshal(map[string]string{
		"session_id": sessionID,
		"rule_name":  ruleName,
		"message":    message,
	})
	if err != nil {
		logger.Error("orchestrator: failed to encode escalation notification", logger.FieldError, err)
		return
	}

	resp, err := notifyClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		logger.Error("orchestrator: escalation notify_external request failed",
			logger.FieldSessionID, sessionID, logger.FieldRuleName, ruleName, logger.FieldError, err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		logger.Error("orchestrator: escalation notify_external returned non-2xx",
			logger.FieldSessionID, sessionID, logger.FieldRuleName, ruleName, logger.FieldStatus, resp.StatusCode)
	}
}
