package jira

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/sells-group/datemover/internal/resilience"
)

// TestConnection verifies the base URL and token by reading server info and
// the authenticated user. It never returns an error; failures are described
// in the result.
func (c *httpClient) TestConnection(ctx context.Context) ConnectionResult {
	info, err := c.ServerInfo(ctx)
	if err != nil {
		res := connectionFailure(err)
		zap.L().Error("jira: connection test failed",
			zap.String("base_url", c.baseURL),
			zap.String("kind", res.Kind),
			zap.String("message", res.Message),
		)
		return res
	}

	res := ConnectionResult{
		Success:        true,
		Message:        "Connection successful",
		ServerTitle:    info.ServerTitle,
		Version:        info.Version,
		DeploymentType: info.DeploymentType,
	}

	// The user lookup is informational; a failure here does not fail the test.
	if u, err := c.Myself(ctx); err == nil {
		res.User = u.DisplayName
	} else {
		zap.L().Warn("jira: could not read authenticated user", zap.Error(err))
	}

	zap.L().Info("jira: connected",
		zap.String("server_title", res.ServerTitle),
		zap.String("version", res.Version),
		zap.String("user", res.User),
	)
	return res
}

func connectionFailure(err error) ConnectionResult {
	kind := resilience.Classify(err)
	res := ConnectionResult{Kind: string(kind)}

	var pe *resilience.PermanentError
	var te *resilience.TransientError
	switch {
	case errors.As(err, &pe) && pe.StatusCode == 401:
		res.StatusCode = 401
		res.Message = "Authentication failed: invalid or expired token"
	case errors.As(err, &pe) && pe.StatusCode == 403:
		res.StatusCode = 403
		res.Message = "Authorization failed: token lacks required permissions"
	case errors.As(err, &pe):
		res.StatusCode = pe.StatusCode
		res.Message = fmt.Sprintf("Connection failed: %v", err)
	case kind == resilience.KindNonStructured:
		res.Message = err.Error()
	case errors.As(err, &te) && te.StatusCode != 0:
		res.StatusCode = te.StatusCode
		res.Message = fmt.Sprintf("Connection failed: server unavailable (HTTP %d)", te.StatusCode)
	case kind == resilience.KindTransient && isTimeout(err):
		res.Message = "Connection timeout: tracker did not respond in time"
	case kind == resilience.KindTransient:
		res.Message = fmt.Sprintf("Connection error: unable to reach tracker - %v", err)
	case kind == resilience.KindCircuitOpen:
		res.Message = "Connection suspended: too many recent failures, retry shortly"
	default:
		res.Message = fmt.Sprintf("Request failed: %v", err)
	}
	return res
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	if errors.As(err, &t) && t.Timeout() {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
