package scraper

import (
	"fmt"
	"os"

	"maps-harvester/config"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/sirupsen/logrus"
)

// Chrome/Chromium locations probed when no binary is configured
var chromePaths = []string{
	"/usr/bin/google-chrome",
	"/usr/bin/google-chrome-stable",
	"/usr/bin/chromium",
	"/usr/bin/chromium-browser",
	"/snap/bin/chromium",
	`C:\Program Files\Google\Chrome\Application\chrome.exe`,
	`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
}

// findChrome returns the configured binary or the first installed one.
// An empty result lets rod download its own Chromium.
func findChrome(configured string) string {
	if configured != "" {
		return configured
	}
	for _, path := range chromePaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// newLauncher builds the browser launcher from the browser config
func newLauncher(cfg config.BrowserConfig, log *logrus.Entry) *launcher.Launcher {
	userDataDir := cfg.UserDataDir
	if userDataDir != "" {
		if err := os.MkdirAll(userDataDir, 0755); err != nil {
			log.WithError(err).Warnf("Failed to create browser data directory %s", userDataDir)
			userDataDir = ""
		}
	}

	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		NoSandbox(true).
		Leakless(false).
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-first-run").
		Set("no-default-browser-check").
		Set("disable-extensions").
		Set("disable-background-timer-throttling").
		Set("disable-renderer-backgrounding").
		Set("disable-backgrounding-occluded-windows").
		Set("disable-popup-blocking").
		Set("disable-sync").
		Set("disable-translate").
		Set("mute-audio").
		Set("lang", "fr-FR").
		Set("window-size", fmt.Sprintf("%d,%d", viewportWidth, viewportHeight))

	if userDataDir != "" {
		l = l.UserDataDir(userDataDir)
	}
	if bin := findChrome(cfg.Bin); bin != "" {
		log.WithField("bin", bin).Debug("Using installed browser")
		l = l.Bin(bin)
	}
	return l
}

// launch starts a browser process and connects to it
func launch(cfg config.BrowserConfig, log *logrus.Entry) (*launcher.Launcher, *rod.Browser, error) {
	l := newLauncher(cfg, log)
	controlURL, err := l.Launch()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to launch browser: %w\n\nNote: On Linux, you may need to install Chromium dependencies:\n  apt-get update && apt-get install -y chromium", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, nil, fmt.Errorf("failed to connect to browser: %w", err)
	}
	return l, browser, nil
}
