// Package device provides DeviceTransport implementations: a subprocess
// transport driving the adb binary, and an HTTP transport speaking to an
// on-device automation bridge.
package device

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
)

// remotePath is where screenshots are staged on the device before pulling.
const remotePath = "/sdcard/screen.png"

// ADB drives a device through the adb command-line tool.
type ADB struct {
	path     string
	deviceID string
	log      *slog.Logger
}

func NewADB(adbPath string, log *slog.Logger) *ADB {
	if adbPath == "" {
		adbPath = "adb"
	}
	if log == nil {
		log = slog.Default()
	}
	return &ADB{path: adbPath, log: log}
}

// Connect selects deviceID for subsequent commands. Network addresses
// (host:port) are dialed with `adb connect` first; "already connected" counts
// as success. The device must then appear in `adb devices`.
func (a *ADB) Connect(ctx context.Context, deviceID string) error {
	if strings.Contains(deviceID, ":") {
		out, err := a.exec(ctx, "", "connect", deviceID)
		if err != nil && !strings.Contains(out, "already connected") {
			return fmt.Errorf("adb connect %s: %w", deviceID, err)
		}
	}

	out, err := a.exec(ctx, "", "devices")
	if err != nil {
		return fmt.Errorf("listing adb devices: %w", err)
	}
	if !deviceListed(out, deviceID) {
		return fmt.Errorf("device %q not in adb devices output", deviceID)
	}

	a.deviceID = deviceID
	a.log.Info("device connected", "device", deviceID)
	return nil
}

func (a *ADB) Tap(ctx context.Context, x, y int) error {
	_, err := a.exec(ctx, a.deviceID, "shell", "input", "tap", itoa(x), itoa(y))
	return err
}

func (a *ADB) Swipe(ctx context.Context, x1, y1, x2, y2, durationMs int) error {
	_, err := a.exec(ctx, a.deviceID,
		"shell", "input", "swipe", itoa(x1), itoa(y1), itoa(x2), itoa(y2), itoa(durationMs))
	return err
}

// Screenshot captures to the device's storage and pulls the file to savePath.
// Both legs must succeed.
func (a *ADB) Screenshot(ctx context.Context, savePath string) error {
	if _, err := a.exec(ctx, a.deviceID, "shell", "screencap", "-p", remotePath); err != nil {
		return fmt.Errorf("screencap: %w", err)
	}
	if _, err := a.exec(ctx, a.deviceID, "pull", remotePath, savePath); err != nil {
		return fmt.Errorf("pull screenshot: %w", err)
	}
	return nil
}

// RestartApp force-stops and relaunches a package. A failed force-stop is
// tolerated (the app may simply not be running); a failed launch is not.
func (a *ADB) RestartApp(ctx context.Context, packageName string) error {
	if out, err := a.exec(ctx, a.deviceID, "shell", "am", "force-stop", packageName); err != nil {
		a.log.Warn("force-stop failed, app may not be running",
			"package", packageName,
			"output", out)
	}

	// monkey finds the default launcher activity without knowing its name.
	if _, err := a.exec(ctx, a.deviceID,
		"shell", "monkey", "-p", packageName, "-c", "android.intent.category.LAUNCHER", "1"); err != nil {
		return fmt.Errorf("launching %q: %w", packageName, err)
	}
	return nil
}

// exec runs one adb invocation, routing to deviceID when set. On failure the
// returned error carries stderr (or stdout when stderr is empty).
func (a *ADB) exec(ctx context.Context, deviceID string, args ...string) (string, error) {
	full := make([]string, 0, len(args)+2)
	if deviceID != "" {
		full = append(full, "-s", deviceID)
	}
	full = append(full, args...)

	cmd := exec.CommandContext(ctx, a.path, full...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = strings.TrimSpace(stdout.String())
		}
		if detail == "" {
			return "", fmt.Errorf("adb %s: %w", args[0], err)
		}
		return detail, fmt.Errorf("adb %s: %s", args[0], detail)
	}
	return strings.TrimSpace(stdout.String()), nil
}

// deviceListed reports whether `adb devices` output lists deviceID as online.
func deviceListed(out, deviceID string) bool {
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) == 2 && fields[0] == deviceID && fields[1] == "device" {
			return true
		}
	}
	return false
}

func itoa(n int) string { return strconv.Itoa(n) }
