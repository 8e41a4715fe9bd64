package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/tphakala/camerad/internal/logger"
)

// memoryReader is mem.VirtualMemory; tests substitute it.
type memoryReader func() (*mem.VirtualMemoryStat, error)

func virtualMemory() (*mem.VirtualMemoryStat, error) { return mem.VirtualMemory() }

// HealthCheck reports coordinator, mailbox and host memory status. A
// stopped coordinator answers 503.
func (c *Controller) HealthCheck(ctx echo.Context) error {
	uptime := time.Since(c.startTime)
	response := map[string]any{
		"status":         "healthy",
		"timestamp":      time.Now().Format(time.RFC3339),
		"uptime":         uptime.String(),
		"uptime_seconds": uptime.Seconds(),
	}

	code := http.StatusOK
	select {
	case <-c.cameras.Done():
		response["status"] = "stopped"
		response["coordinator"] = "stopped"
		code = http.StatusServiceUnavailable
	default:
		response["coordinator"] = "running"
		reqCtx, cancel := c.requestContext(ctx)
		sessions, err := c.cameras.Sessions(reqCtx)
		cancel()
		if err != nil {
			response["status"] = "degraded"
			response["coordinator_error"] = err.Error()
		} else {
			response["sessions"] = len(sessions)
		}
	}
	response["bridge"] = c.cameras.BridgeStats()

	if vm, err := c.memory(); err != nil {
		c.log.Debug("failed to read memory statistics", logger.Error(err))
	} else {
		response["memory"] = map[string]any{
			"total_mb":     vm.Total / 1024 / 1024,
			"used_mb":      vm.Used / 1024 / 1024,
			"used_percent": vm.UsedPercent,
		}
	}

	return ctx.JSON(code, response)
}
