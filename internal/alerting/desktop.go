package alerting

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

const desktopTimeout = 10 * time.Second

// DesktopChannel shells out to notify-send for local desktop notifications.
type DesktopChannel struct {
	name    string
	enabled bool
	binary  string
}

// NewDesktopChannel builds a desktop channel backed by notify-send.
func NewDesktopChannel(name string, enabled bool) *DesktopChannel {
	return &DesktopChannel{name: name, enabled: enabled, binary: "notify-send"}
}

func (c *DesktopChannel) Name() string {
	return c.name
}

func (c *DesktopChannel) Enabled() bool {
	if !c.enabled {
		return false
	}
	_, err := exec.LookPath(c.binary)
	return err == nil
}

func (c *DesktopChannel) Send(ctx context.Context, alert Payload) error {
	runCtx, cancel := context.WithTimeout(ctx, desktopTimeout)
	defer cancel()

	urgency := "normal"
	if alert.Severity >= SeverityCritical {
		urgency = "critical"
	} else if alert.Severity <= SeverityInfo {
		urgency = "low"
	}

	body := alert.Message
	if body == "" {
		body = alert.ItemURL
	}

	cmd := exec.CommandContext(runCtx, c.binary,
		"--urgency", urgency,
		"--app-name", "sentinel",
		alert.Title,
		body,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("notify-send: %w (%s)", err, string(out))
	}
	return nil
}
